package tactics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/parley/internal/hermes"
	"github.com/MikeSquared-Agency/parley/internal/llm"
	"github.com/MikeSquared-Agency/parley/internal/persona"
)

// ErrGenerationFailed wraps the last model error once reply generation has
// used up its attempts.
var ErrGenerationFailed = errors.New("reply generation failed")

// Publisher receives pipeline events. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

type Config struct {
	AnalyzeTemperature float64
	AnalyzeMaxTokens   int
	ExecuteTemperature float64
	ExecuteMaxTokens   int
}

// DefaultConfig keeps analysis terse and deterministic and lets generation
// run warmer and longer.
func DefaultConfig() Config {
	return Config{
		AnalyzeTemperature: 0.3,
		AnalyzeMaxTokens:   512,
		ExecuteTemperature: 0.9,
		ExecuteMaxTokens:   1536,
	}
}

const fallbackSummary = "暂时无法判断对方的情绪，先按安抚处理。"

type Pipeline struct {
	invoker *llm.Invoker
	catalog *persona.Catalog
	events  Publisher
	cfg     Config
	logger  *slog.Logger
}

// NewPipeline wires the two phases. events may be nil.
func NewPipeline(invoker *llm.Invoker, catalog *persona.Catalog, events Publisher, cfg Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		invoker: invoker,
		catalog: catalog,
		events:  events,
		cfg:     cfg,
		logger:  logger,
	}
}

func checkMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: message is empty", llm.ErrInvariantViolation)
	}
	return nil
}

// Analyze reads the situation. Model failures degrade to a heuristic
// COMFORT verdict; only caller mistakes are returned as errors.
func (p *Pipeline) Analyze(ctx context.Context, message string, history []Message) (SituationAnalysis, error) {
	if err := checkMessage(message); err != nil {
		return SituationAnalysis{}, err
	}
	if err := ValidateHistory(history); err != nil {
		return SituationAnalysis{}, err
	}

	burst := DetectBurst(message)
	req := llm.Request{
		System:      analysisSystemPrompt,
		Prompt:      BuildAnalysisPrompt(message, history),
		Temperature: p.cfg.AnalyzeTemperature,
		MaxTokens:   p.cfg.AnalyzeMaxTokens,
		JSON:        true,
	}

	analysis, err := llm.Invoke(ctx, p.invoker, req, ParseAnalysis)
	fallback := false
	if err != nil {
		if errors.Is(err, llm.ErrInvariantViolation) {
			return SituationAnalysis{}, err
		}
		p.logger.Warn("analysis degraded to fallback", "error", err, "lines", burst.Lines)
		analysis = Fallback(burst)
		fallback = true
	} else {
		analysis = burst.Merge(analysis)
	}

	p.logger.Info("situation analysed",
		"intent", analysis.Intent,
		"strategy", analysis.Strategy,
		"emotion", analysis.EmotionScore,
		"burst", analysis.BurstDetected,
		"pressure", analysis.PressureLevel,
		"fallback", fallback,
	)
	p.publish(hermes.SubjectAnalysisCompleted, hermes.AnalysisCompleted{
		Intent:        string(analysis.Intent),
		Strategy:      string(analysis.Strategy),
		EmotionScore:  analysis.EmotionScore,
		BurstDetected: analysis.BurstDetected,
		PressureLevel: analysis.PressureLevel,
		Fallback:      fallback,
		Source:        "text",
		Timestamp:     time.Now().UTC(),
	})
	return analysis, nil
}

// Fallback is the verdict used when the model cannot be reached.
func Fallback(b Burst) SituationAnalysis {
	return SituationAnalysis{
		Summary:       fallbackSummary,
		EmotionScore:  0,
		Intent:        IntentUnknown,
		Strategy:      StrategyComfort,
		Confidence:    0.5,
		BurstDetected: b.Detected,
		PressureLevel: b.PressureLevel,
	}
}

type ExecuteRequest struct {
	Message  string            `json:"message"`
	Analysis SituationAnalysis `json:"analysis"`
	History  []Message         `json:"history"`
	Override Override          `json:"intent_override,omitempty"`
}

// checkAnalysis validates a caller-supplied (possibly hand-edited) analysis.
// Strategy is allowed to be empty or unknown; the prompt then falls back to
// the default guide.
func checkAnalysis(a SituationAnalysis) error {
	probe := a
	probe.Strategy = StrategyComfort
	if !probe.Intent.Valid() {
		probe.Intent = IntentUnknown
	}
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("%w: %v", llm.ErrInvariantViolation, err)
	}
	return nil
}

// Execute generates three persona-styled replies. Unlike Analyze, it
// surfaces model failure to the caller.
func (p *Pipeline) Execute(ctx context.Context, in ExecuteRequest) (ExecuteResult, error) {
	if err := checkMessage(in.Message); err != nil {
		return ExecuteResult{}, err
	}
	if err := ValidateHistory(in.History); err != nil {
		return ExecuteResult{}, err
	}
	if err := checkAnalysis(in.Analysis); err != nil {
		return ExecuteResult{}, err
	}
	override, _, err := in.Override.Strategy()
	if err != nil {
		return ExecuteResult{}, err
	}

	styles, err := p.catalog.Pick(OptionCount)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("pick personas: %w", err)
	}

	req := llm.Request{
		System:      executionSystemPrompt,
		Prompt:      BuildExecutionPrompt(in.Message, in.Analysis, styles, in.History, override),
		Temperature: p.cfg.ExecuteTemperature,
		MaxTokens:   p.cfg.ExecuteMaxTokens,
		JSON:        true,
	}
	result, err := llm.Invoke(ctx, p.invoker, req, func(raw string) (ExecuteResult, error) {
		return ParseOptions(raw, styles)
	})
	if err != nil {
		if errors.Is(err, llm.ErrInvariantViolation) {
			return ExecuteResult{}, err
		}
		p.logger.Error("reply generation failed", "error", err, "styles", codes(styles))
		return ExecuteResult{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	strategy := in.Analysis.Strategy
	if override != "" {
		strategy = override
	}
	p.logger.Info("options generated", "strategy", strategy, "override", in.Override, "styles", codes(styles))
	p.publish(hermes.SubjectOptionsGenerated, optionsEvent(result, strategy, in.Override, "text"))
	return result, nil
}

func optionsEvent(r ExecuteResult, strategy Strategy, override Override, source string) hermes.OptionsGenerated {
	ev := hermes.OptionsGenerated{
		Strategy:  string(strategy),
		Override:  string(override),
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
	for _, o := range r.Options {
		ev.Styles = append(ev.Styles, o.Style)
		ev.Scores = append(ev.Scores, o.Score)
	}
	return ev
}

func codes(ps []persona.Persona) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Code
	}
	return out
}

// Attempts is how many model calls one phase may spend.
func (p *Pipeline) Attempts() int { return p.invoker.Attempts() }

func (p *Pipeline) publish(subject string, data any) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(subject, data); err != nil {
		p.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
