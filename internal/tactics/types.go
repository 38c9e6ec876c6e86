// Package tactics turns an incoming chat message into a situation analysis
// and then into three persona-styled reply options.
package tactics

import (
	"fmt"
	"strings"

	"github.com/MikeSquared-Agency/parley/internal/llm"
)

// MaxHistory is the longest conversation a caller may pass in.
const MaxHistory = 32

type Role string

const (
	RoleOther   Role = "other"   // the person being replied to
	RoleAdvisor Role = "advisor" // replies the user already sent
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ValidateHistory rejects histories the pipeline must never see. Too-long
// histories are an error, never silently truncated.
func ValidateHistory(history []Message) error {
	if len(history) > MaxHistory {
		return fmt.Errorf("%w: history has %d entries, max %d", llm.ErrInvariantViolation, len(history), MaxHistory)
	}
	for i, m := range history {
		if m.Role != RoleOther && m.Role != RoleAdvisor {
			return fmt.Errorf("%w: history[%d] has unknown role %q", llm.ErrInvariantViolation, i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: history[%d] is empty", llm.ErrInvariantViolation, i)
		}
	}
	return nil
}

type Intent string

const (
	IntentTesting          Intent = "TESTING"
	IntentComplaining      Intent = "COMPLAINING"
	IntentFlirting         Intent = "FLIRTING"
	IntentVenting          Intent = "VENTING"
	IntentSeekingAttention Intent = "SEEKING_ATTENTION"
	IntentColdWar          Intent = "COLD_WAR"
	IntentSharing          Intent = "SHARING"
	IntentInviting         Intent = "INVITING"
	IntentAskingHelp       Intent = "ASKING_HELP"
	IntentUnknown          Intent = "UNKNOWN"
)

// Intents lists every intent with the description the model sees.
var Intents = []struct {
	Intent      Intent
	Description string
}{
	{IntentTesting, "试探：故意刁难或反问，看你的反应和底线"},
	{IntentComplaining, "抱怨：对你或某件事不满，想要被重视"},
	{IntentFlirting, "调情：暧昧、撒娇、开玩笑式的亲近"},
	{IntentVenting, "倾诉：情绪需要出口，不一定要解决方案"},
	{IntentSeekingAttention, "求关注：想让你主动关心、多聊几句"},
	{IntentColdWar, "冷战：冷淡、敷衍、单字回复，关系紧张"},
	{IntentSharing, "分享：分享日常、见闻或喜悦"},
	{IntentInviting, "邀约：提出见面、活动或计划"},
	{IntentAskingHelp, "求助：需要具体的帮助或建议"},
	{IntentUnknown, "无法判断"},
}

func (i Intent) Valid() bool {
	for _, known := range Intents {
		if known.Intent == i {
			return true
		}
	}
	return false
}

type Strategy string

const (
	StrategyComfort     Strategy = "COMFORT"
	StrategyEmpathize   Strategy = "EMPATHIZE"
	StrategyHumor       Strategy = "HUMOR"
	StrategyTease       Strategy = "TEASE"
	StrategyPushPull    Strategy = "PUSH_PULL"
	StrategyAssert      Strategy = "ASSERT"
	StrategyApologize   Strategy = "APOLOGIZE"
	StrategyDeescalate  Strategy = "DEESCALATE"
	StrategyProbeDeeper Strategy = "PROBE_DEEPER"
	StrategyLureIn      Strategy = "LURE_IN"
)

// Strategies maps each strategy to the guide sentence used in the
// generation prompt.
var Strategies = []struct {
	Strategy Strategy
	Guide    string
}{
	{StrategyComfort, "先接住对方的情绪，给足安全感，语气温柔，不讲道理。"},
	{StrategyEmpathize, "复述并认同对方的感受，让对方觉得被理解，再轻轻引导。"},
	{StrategyHumor, "用轻松幽默化解气氛，自嘲优先，避免嘲笑对方。"},
	{StrategyTease, "带点坏心眼地调侃，制造小小的拉扯感，但不要伤人。"},
	{StrategyPushPull, "一边表达好感一边保持距离，先推后拉，制造情绪起伏。"},
	{StrategyAssert, "态度坚定地表达立场和边界，不卑不亢，掌握主动权。"},
	{StrategyApologize, "真诚认错，具体说明哪里做得不好，并给出弥补的行动。"},
	{StrategyDeescalate, "降低冲突强度，暂停争论，先处理情绪再处理事情。"},
	{StrategyProbeDeeper, "用开放式问题试探对方真实想法，少下结论，多引导对方多说。"},
	{StrategyLureIn, "抛出让人好奇的钩子，引诱对方主动追问或靠近。"},
}

// DefaultGuide is used when the strategy is missing or unrecognised.
const DefaultGuide = "根据对方的情绪和意图灵活应对，自然真诚即可。"

func (s Strategy) Valid() bool {
	for _, known := range Strategies {
		if known.Strategy == s {
			return true
		}
	}
	return false
}

// Guide returns the strategy's guide sentence, or DefaultGuide.
func (s Strategy) Guide() string {
	for _, known := range Strategies {
		if known.Strategy == s {
			return known.Guide
		}
	}
	return DefaultGuide
}

// Override lets the user force the generation strategy.
type Override string

const (
	OverrideNone     Override = ""
	OverridePressure Override = "PRESSURE"
	OverrideLure     Override = "LURE"
	OverrideProbe    Override = "PROBE"
	OverrideComfort  Override = "COMFORT"
)

var overrideStrategies = map[Override]Strategy{
	OverridePressure: StrategyAssert,
	OverrideLure:     StrategyLureIn,
	OverrideProbe:    StrategyProbeDeeper,
	OverrideComfort:  StrategyComfort,
}

// Strategy resolves the override. ok is false for OverrideNone.
func (o Override) Strategy() (Strategy, bool, error) {
	if o == OverrideNone {
		return "", false, nil
	}
	s, ok := overrideStrategies[Override(strings.ToUpper(string(o)))]
	if !ok {
		return "", false, fmt.Errorf("%w: unknown intent override %q", llm.ErrInvariantViolation, o)
	}
	return s, true, nil
}

// SituationAnalysis is the phase-one verdict on an incoming message.
type SituationAnalysis struct {
	Summary       string   `json:"summary"`
	EmotionScore  int      `json:"emotion_score"`  // -3 hostile .. +3 affectionate
	Intent        Intent   `json:"intent"`
	Strategy      Strategy `json:"strategy"`
	Confidence    float64  `json:"confidence"`     // 0..1
	BurstDetected bool     `json:"burst_detected"` // several short messages in a row
	PressureLevel int      `json:"pressure_level"` // 0..5
}

// Validate checks ranges and enums. It never mutates, so calling it on an
// already valid value always succeeds.
func (a SituationAnalysis) Validate() error {
	if a.EmotionScore < -3 || a.EmotionScore > 3 {
		return fmt.Errorf("%w: emotion_score %d outside [-3,3]", llm.ErrSchemaViolation, a.EmotionScore)
	}
	if !a.Intent.Valid() {
		return fmt.Errorf("%w: unknown intent %q", llm.ErrSchemaViolation, a.Intent)
	}
	if !a.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q", llm.ErrSchemaViolation, a.Strategy)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("%w: confidence %g outside [0,1]", llm.ErrSchemaViolation, a.Confidence)
	}
	if a.PressureLevel < 0 || a.PressureLevel > 5 {
		return fmt.Errorf("%w: pressure_level %d outside [0,5]", llm.ErrSchemaViolation, a.PressureLevel)
	}
	return nil
}

type ReplyOption struct {
	Style     string `json:"style"`
	StyleName string `json:"style_name"`
	Text      string `json:"text"`
	Kaomoji   string `json:"kaomoji"`
	Score     int    `json:"score"` // expected effect, -3 .. +3
}

func (o ReplyOption) Validate() error {
	if o.Style == "" {
		return fmt.Errorf("%w: option has no style", llm.ErrSchemaViolation)
	}
	if strings.TrimSpace(o.Text) == "" {
		return fmt.Errorf("%w: option %s has empty text", llm.ErrSchemaViolation, o.Style)
	}
	if ContainsKaomoji(o.Text) {
		return fmt.Errorf("%w: option %s text contains kaomoji", llm.ErrSchemaViolation, o.Style)
	}
	if o.Score < -3 || o.Score > 3 {
		return fmt.Errorf("%w: option %s score %d outside [-3,3]", llm.ErrSchemaViolation, o.Style, o.Score)
	}
	return nil
}

// OptionCount is how many reply options every generation returns.
const OptionCount = 3

type ExecuteResult struct {
	AnalysisText string        `json:"analysis_text"`
	Options      []ReplyOption `json:"options"`
}

func (r ExecuteResult) Validate() error {
	if len(r.Options) != OptionCount {
		return fmt.Errorf("%w: got %d options, want %d", llm.ErrSchemaViolation, len(r.Options), OptionCount)
	}
	for _, o := range r.Options {
		if err := o.Validate(); err != nil {
			return err
		}
	}
	return nil
}
