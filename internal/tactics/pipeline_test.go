package tactics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/parley/internal/hermes"
	"github.com/MikeSquared-Agency/parley/internal/llm"
)

func TestAnalyze_Success(t *testing.T) {
	fake := &fakeLLM{respond: always(validAnalysisJSON)}
	events := &fakePublisher{}
	p := newTestPipeline(t, fake, events)

	a, err := p.Analyze(context.Background(), "你在干嘛", makeHistory(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Intent != IntentSeekingAttention || a.Strategy != StrategyTease {
		t.Errorf("unexpected verdict %+v", a)
	}

	req := fake.requests[0]
	if req.Temperature != 0.3 || req.MaxTokens != 512 || !req.JSON {
		t.Errorf("unexpected analysis request settings %+v", req)
	}
	if !strings.Contains(req.Prompt, "你在干嘛") {
		t.Error("expected message in prompt")
	}

	if len(events.events) != 1 || events.events[0].subject != hermes.SubjectAnalysisCompleted {
		t.Fatalf("expected one analysis event, got %+v", events.events)
	}
	ev := events.events[0].data.(hermes.AnalysisCompleted)
	if ev.Fallback || ev.Source != "text" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestAnalyze_HeuristicRaisesModelVerdict(t *testing.T) {
	fake := &fakeLLM{respond: always(validAnalysisJSON)} // burst false, pressure 1
	p := newTestPipeline(t, fake, nil)

	a, err := p.Analyze(context.Background(), "我\n讨\n厌\n你", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.BurstDetected {
		t.Error("expected burst from local heuristic")
	}
	if a.PressureLevel != 4 {
		t.Errorf("expected pressure 4, got %d", a.PressureLevel)
	}
}

func TestAnalyze_ModelPressureKeptWhenHigher(t *testing.T) {
	raw := strings.Replace(validAnalysisJSON, `"pressure_level": 1`, `"pressure_level": 5`, 1)
	p := newTestPipeline(t, &fakeLLM{respond: always(raw)}, nil)

	a, err := p.Analyze(context.Background(), "好", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.PressureLevel != 5 {
		t.Errorf("expected model pressure 5 to stand, got %d", a.PressureLevel)
	}
}

func TestAnalyze_RecoversOnThirdAttempt(t *testing.T) {
	fake := &fakeLLM{respond: func(call int, _ llm.Request) (string, error) {
		if call < 3 {
			return "not json", nil
		}
		return validAnalysisJSON, nil
	}}
	p := newTestPipeline(t, fake, nil)

	a, err := p.Analyze(context.Background(), "嗯", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Strategy != StrategyTease {
		t.Errorf("expected model verdict, got %+v", a)
	}
	if fake.calls() != 3 {
		t.Errorf("expected 3 calls, got %d", fake.calls())
	}
}

func TestAnalyze_FallbackAfterExhaustion(t *testing.T) {
	fake := &fakeLLM{respond: func(int, llm.Request) (string, error) {
		return "", fmt.Errorf("connection reset: %w", llm.ErrTransient)
	}}
	events := &fakePublisher{}
	p := newTestPipeline(t, fake, events)

	a, err := p.Analyze(context.Background(), "我\n讨\n厌\n你", nil)
	if err != nil {
		t.Fatalf("analyze must not fail on model errors, got %v", err)
	}
	if fake.calls() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", fake.calls())
	}
	if a.Strategy != StrategyComfort || a.Intent != IntentUnknown {
		t.Errorf("expected COMFORT/UNKNOWN fallback, got %s/%s", a.Strategy, a.Intent)
	}
	if a.EmotionScore != 0 || a.Confidence != 0.5 {
		t.Errorf("expected neutral fallback, got emotion=%d confidence=%g", a.EmotionScore, a.Confidence)
	}
	if !a.BurstDetected || a.PressureLevel != 4 {
		t.Errorf("expected heuristic burst fields, got %v/%d", a.BurstDetected, a.PressureLevel)
	}
	if err := a.Validate(); err != nil {
		t.Errorf("fallback must satisfy invariants: %v", err)
	}
	if ev := events.events[0].data.(hermes.AnalysisCompleted); !ev.Fallback {
		t.Error("expected fallback flag on event")
	}
}

func TestAnalyze_HistoryLimit(t *testing.T) {
	fake := &fakeLLM{respond: always(validAnalysisJSON)}
	p := newTestPipeline(t, fake, nil)

	if _, err := p.Analyze(context.Background(), "hi", makeHistory(MaxHistory)); err != nil {
		t.Fatalf("32 entries must be accepted: %v", err)
	}

	_, err := p.Analyze(context.Background(), "hi", makeHistory(MaxHistory+1))
	if !errors.Is(err, llm.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if fake.calls() != 1 {
		t.Errorf("rejected history must not reach the model, got %d calls", fake.calls())
	}
}

func TestAnalyze_RejectsBadInput(t *testing.T) {
	p := newTestPipeline(t, &fakeLLM{respond: always(validAnalysisJSON)}, nil)

	if _, err := p.Analyze(context.Background(), "  \n ", nil); !errors.Is(err, llm.ErrInvariantViolation) {
		t.Errorf("expected empty message to be rejected, got %v", err)
	}
	bad := []Message{{Role: "narrator", Content: "x"}}
	if _, err := p.Analyze(context.Background(), "hi", bad); !errors.Is(err, llm.ErrInvariantViolation) {
		t.Errorf("expected unknown role to be rejected, got %v", err)
	}
}

func validExecuteRequest() ExecuteRequest {
	return ExecuteRequest{
		Message: "你在干嘛",
		Analysis: SituationAnalysis{
			Summary:    "对方在撒娇求关注",
			Intent:     IntentSeekingAttention,
			Strategy:   StrategyTease,
			Confidence: 0.8,
		},
		History: makeHistory(2),
	}
}

func TestExecute_Success(t *testing.T) {
	fake := &fakeLLM{respond: always(validOptionsJSON)}
	events := &fakePublisher{}
	p := newTestPipeline(t, fake, events)

	res, err := p.Execute(context.Background(), validExecuteRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Options) != 3 {
		t.Fatalf("expected 3 options, got %d", len(res.Options))
	}
	want := []string{"TSUNDERE", "YANDERE", "KUUDERE"}
	for i, o := range res.Options {
		if o.Style != want[i] {
			t.Errorf("option %d: style %s, want %s", i, o.Style, want[i])
		}
	}

	req := fake.requests[0]
	if req.Temperature != 0.9 || req.MaxTokens != 1536 {
		t.Errorf("unexpected execution request settings %+v", req)
	}
	if !strings.Contains(req.Prompt, StrategyTease.Guide()) {
		t.Error("expected strategy guide in prompt")
	}

	ev := events.events[0].data.(hermes.OptionsGenerated)
	if ev.Strategy != "TEASE" || len(ev.Styles) != 3 || ev.Override != "" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestExecute_Override(t *testing.T) {
	fake := &fakeLLM{respond: always(validOptionsJSON)}
	events := &fakePublisher{}
	p := newTestPipeline(t, fake, events)

	in := validExecuteRequest()
	in.Override = OverridePressure
	if _, err := p.Execute(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(fake.requests[0].Prompt, "用户指定战术") {
		t.Error("expected override directive in prompt")
	}
	if ev := events.events[0].data.(hermes.OptionsGenerated); ev.Strategy != "ASSERT" || ev.Override != "PRESSURE" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestExecute_FailsAfterExactlyThreeAttempts(t *testing.T) {
	fake := &fakeLLM{respond: always(`{"analysis":"a","options":[]}`)}
	p := newTestPipeline(t, fake, nil)

	_, err := p.Execute(context.Background(), validExecuteRequest())
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected generation failure, got %v", err)
	}
	if !errors.Is(err, llm.ErrSchemaViolation) {
		t.Errorf("expected last cause to be a schema violation, got %v", err)
	}
	if fake.calls() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", fake.calls())
	}
}

func TestExecute_RejectsBadInput(t *testing.T) {
	tests := map[string]func(*ExecuteRequest){
		"empty message":    func(r *ExecuteRequest) { r.Message = "" },
		"history too long": func(r *ExecuteRequest) { r.History = makeHistory(MaxHistory + 1) },
		"unknown override": func(r *ExecuteRequest) { r.Override = "SEDUCE" },
		"emotion range":    func(r *ExecuteRequest) { r.Analysis.EmotionScore = 7 },
		"confidence range": func(r *ExecuteRequest) { r.Analysis.Confidence = -0.1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			fake := &fakeLLM{respond: always(validOptionsJSON)}
			p := newTestPipeline(t, fake, nil)

			in := validExecuteRequest()
			mutate(&in)
			_, err := p.Execute(context.Background(), in)
			if !errors.Is(err, llm.ErrInvariantViolation) {
				t.Fatalf("expected invariant violation, got %v", err)
			}
			if fake.calls() != 0 {
				t.Errorf("expected no model calls, got %d", fake.calls())
			}
		})
	}
}

func TestExecute_AcceptsMissingStrategy(t *testing.T) {
	fake := &fakeLLM{respond: always(validOptionsJSON)}
	p := newTestPipeline(t, fake, nil)

	in := validExecuteRequest()
	in.Analysis.Strategy = ""
	in.Analysis.Intent = ""
	if _, err := p.Execute(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(fake.requests[0].Prompt, DefaultGuide) {
		t.Error("expected default guide for missing strategy")
	}
}
