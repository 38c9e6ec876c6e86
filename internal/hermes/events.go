package hermes

import "time"

const (
	SubjectAnalysisCompleted = "parley.analysis.completed"
	SubjectOptionsGenerated  = "parley.options.generated"
	SubjectFeedbackRecorded  = "parley.feedback.recorded"
	SubjectStarted           = "parley.service.started"
)

// AnalysisCompleted carries no message text, only the verdict.
type AnalysisCompleted struct {
	Intent        string    `json:"intent"`
	Strategy      string    `json:"strategy"`
	EmotionScore  int       `json:"emotion_score"`
	BurstDetected bool      `json:"burst_detected"`
	PressureLevel int       `json:"pressure_level"`
	Fallback      bool      `json:"fallback"` // model failed, heuristic verdict
	Source        string    `json:"source"`   // "text" or "vision"
	Timestamp     time.Time `json:"timestamp"`
}

type OptionsGenerated struct {
	Strategy  string    `json:"strategy"`
	Override  string    `json:"override,omitempty"`
	Styles    []string  `json:"styles"`
	Scores    []int     `json:"scores"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// FeedbackRecorded feeds downstream preference training.
type FeedbackRecorded struct {
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	Kind      string    `json:"kind"`
	Weight    float64   `json:"weight"`
	Style     string    `json:"style,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
