package hermes

import (
	"encoding/json"
	"testing"
)

func TestAnalysisCompletedParsing(t *testing.T) {
	raw := `{
		"intent": "COLD_WAR",
		"strategy": "DEESCALATE",
		"emotion_score": -2,
		"burst_detected": true,
		"pressure_level": 4,
		"fallback": false,
		"source": "text",
		"timestamp": "2026-03-01T10:00:00Z"
	}`

	var ev AnalysisCompleted
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("failed to parse AnalysisCompleted: %v", err)
	}
	if ev.Intent != "COLD_WAR" {
		t.Errorf("expected intent COLD_WAR, got %q", ev.Intent)
	}
	if ev.EmotionScore != -2 {
		t.Errorf("expected emotion -2, got %d", ev.EmotionScore)
	}
	if !ev.BurstDetected || ev.PressureLevel != 4 {
		t.Errorf("expected burst with pressure 4, got %v/%d", ev.BurstDetected, ev.PressureLevel)
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected timestamp to parse")
	}
}

func TestOptionsGeneratedOmitsEmptyOverride(t *testing.T) {
	data, err := json.Marshal(OptionsGenerated{Strategy: "TEASE", Styles: []string{"GENKI"}, Scores: []int{2}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, ok := m["override"]; ok {
		t.Errorf("expected override to be omitted, got %s", data)
	}
	if m["strategy"] != "TEASE" {
		t.Errorf("expected strategy TEASE, got %v", m["strategy"])
	}
}

func TestFeedbackRecordedFields(t *testing.T) {
	data, _ := json.Marshal(FeedbackRecorded{UserID: "u1", MessageID: "m1", Kind: "like", Weight: 2})

	var back map[string]any
	json.Unmarshal(data, &back)
	for _, key := range []string{"user_id", "message_id", "kind", "weight", "timestamp"} {
		if _, ok := back[key]; !ok {
			t.Errorf("expected key %s in %s", key, data)
		}
	}
	if _, ok := back["style"]; ok {
		t.Errorf("expected empty style omitted")
	}
}
