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

// Bubble is one chat bubble read off a screenshot.
type Bubble struct {
	Text       string  `json:"text"`
	IsMe       bool    `json:"is_me"`
	Confidence float64 `json:"confidence"`
}

// VisionReport is what the vision model extracts from a chat screenshot.
type VisionReport struct {
	Summary            string   `json:"summary"`
	Bubbles            []Bubble `json:"bubbles"`
	EmotionDetected    string   `json:"emotion_detected"`
	EmotionScore       int      `json:"emotion_score"`
	ContextHint        string   `json:"context_hint"`
	TacticalSuggestion string   `json:"tactical_suggestion"`
	Confidence         float64  `json:"confidence"`
}

func (r VisionReport) Validate() error {
	if strings.TrimSpace(r.Summary) == "" {
		return fmt.Errorf("%w: missing summary", llm.ErrSchemaViolation)
	}
	if r.EmotionScore < -3 || r.EmotionScore > 3 {
		return fmt.Errorf("%w: emotion_score %d outside [-3,3]", llm.ErrSchemaViolation, r.EmotionScore)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence %g outside [0,1]", llm.ErrSchemaViolation, r.Confidence)
	}
	for i, b := range r.Bubbles {
		if b.Confidence < 0 || b.Confidence > 1 {
			return fmt.Errorf("%w: bubble %d confidence %g outside [0,1]", llm.ErrSchemaViolation, i, b.Confidence)
		}
	}
	return nil
}

// OfflineReport is returned when the vision model cannot be used.
func OfflineReport() VisionReport {
	return VisionReport{
		Summary:            "截图识别暂时不可用，请手动输入对话内容。",
		Bubbles:            []Bubble{},
		EmotionDetected:    "未知",
		EmotionScore:       0,
		TacticalSuggestion: "建议手动补充对话内容后重试",
		Confidence:         0,
	}
}

// ParseVisionReport decodes and validates a screenshot reading.
func ParseVisionReport(raw string) (VisionReport, error) {
	var r VisionReport
	if err := decodeReply(raw, &r); err != nil {
		return VisionReport{}, err
	}
	r.Summary = strings.TrimSpace(r.Summary)
	if r.Bubbles == nil {
		r.Bubbles = []Bubble{}
	}
	if err := r.Validate(); err != nil {
		return VisionReport{}, err
	}
	return r, nil
}

const visionAnalysisSystemPrompt = `你是一个专业的恋爱战术分析 AI，负责阅读聊天记录截图。
右侧或下方的气泡通常是「我」，左侧或上方是「对方」。
按时间从上到下列出每条消息，判断对方情绪，解读潜台词，给出简短的应对建议。
如果图片模糊或无法识别，在 summary 中说明，并降低 confidence。
你必须只输出一个 JSON 对象：
{
  "summary": "一句话总结当前局势",
  "bubbles": [{"text": "对话内容", "is_me": false, "confidence": 0.95}],
  "emotion_detected": "撒娇/生气/开心/冷淡/期待/...",
  "emotion_score": 0,
  "context_hint": "潜台词",
  "tactical_suggestion": "应对建议",
  "confidence": 0.85
}
emotion_score 为 -3 到 3 的整数。`

const visionExecutePromptTemplate = `请阅读这张聊天截图，替「我」回复对方最后一条消息。
%s%s
## 三种人设（每个人设恰好写一个选项）
%s
输出格式：
{
  "analysis": "一两句话说明局势和回复思路",
  "options": [
    {"style": "人设代码", "text": "回复正文，不含颜文字", "kaomoji": "从该人设推荐中选一个", "score": 2}
  ]
}
score 为 -3 到 3 的整数。options 必须恰好 3 个。

Return ONLY the JSON object.`

type VisionConfig struct {
	Temperature        float64
	MaxTokens          int
	ExecuteTemperature float64
}

func DefaultVisionConfig() VisionConfig {
	return VisionConfig{Temperature: 0.7, MaxTokens: 2048, ExecuteTemperature: 0.9}
}

// Vision runs the screenshot variants of both phases.
type Vision struct {
	invoker *llm.Invoker
	catalog *persona.Catalog
	events  Publisher
	cfg     VisionConfig
	logger  *slog.Logger
}

func NewVision(invoker *llm.Invoker, catalog *persona.Catalog, events Publisher, cfg VisionConfig, logger *slog.Logger) *Vision {
	return &Vision{invoker: invoker, catalog: catalog, events: events, cfg: cfg, logger: logger}
}

func checkImage(img *llm.Image) error {
	if img == nil || len(img.Data) == 0 {
		return fmt.Errorf("%w: image is empty", llm.ErrInvariantViolation)
	}
	return nil
}

// AnalyzeScreenshot reads a chat screenshot. Any model failure yields
// OfflineReport instead of an error.
func (v *Vision) Attempts() int { return v.invoker.Attempts() }

func (v *Vision) AnalyzeScreenshot(ctx context.Context, img *llm.Image, hint string) (VisionReport, error) {
	if err := checkImage(img); err != nil {
		return VisionReport{}, err
	}

	prompt := "请分析这张聊天记录截图。"
	if h := strings.TrimSpace(hint); h != "" {
		prompt += "\n用户补充信息：" + h
	}

	start := time.Now()
	report, err := llm.Invoke(ctx, v.invoker, llm.Request{
		System:      visionAnalysisSystemPrompt,
		Prompt:      prompt,
		Temperature: v.cfg.Temperature,
		MaxTokens:   v.cfg.MaxTokens,
		Image:       img,
	}, ParseVisionReport)
	if err != nil {
		v.logger.Warn("screenshot analysis offline", "error", err, "elapsed", time.Since(start))
		report = OfflineReport()
	} else {
		v.logger.Info("screenshot analysed", "bubbles", len(report.Bubbles), "confidence", report.Confidence, "elapsed", time.Since(start))
	}

	if v.events != nil {
		ev := hermes.AnalysisCompleted{
			EmotionScore: report.EmotionScore,
			Fallback:     err != nil,
			Source:       "vision",
			Timestamp:    time.Now().UTC(),
		}
		if perr := v.events.Publish(hermes.SubjectAnalysisCompleted, ev); perr != nil {
			v.logger.Warn("event publish failed", "subject", hermes.SubjectAnalysisCompleted, "error", perr)
		}
	}
	return report, nil
}

// ExecuteScreenshot writes three replies straight from a screenshot.
func (v *Vision) ExecuteScreenshot(ctx context.Context, img *llm.Image, hint string, o Override) (ExecuteResult, error) {
	if err := checkImage(img); err != nil {
		return ExecuteResult{}, err
	}
	override, _, err := o.Strategy()
	if err != nil {
		return ExecuteResult{}, err
	}

	styles, err := v.catalog.Pick(OptionCount)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("pick personas: %w", err)
	}

	var personas strings.Builder
	for _, p := range styles {
		fmt.Fprintf(&personas, "- %s（%s）：%s 推荐颜文字：%s\n",
			p.Code, p.DisplayName, p.Description, strings.Join(p.Kaomoji, " "))
	}
	hintLine := ""
	if h := strings.TrimSpace(hint); h != "" {
		hintLine = "用户补充信息：" + h + "\n"
	}
	directive := ""
	if override != "" {
		directive = fmt.Sprintf(overrideDirectiveTemplate, override, override.Guide())
	}

	result, err := llm.Invoke(ctx, v.invoker, llm.Request{
		System:      executionSystemPrompt,
		Prompt:      fmt.Sprintf(visionExecutePromptTemplate, hintLine, directive, personas.String()),
		Temperature: v.cfg.ExecuteTemperature,
		MaxTokens:   v.cfg.MaxTokens,
		Image:       img,
	}, func(raw string) (ExecuteResult, error) {
		return ParseOptions(raw, styles)
	})
	if err != nil {
		if errors.Is(err, llm.ErrInvariantViolation) {
			return ExecuteResult{}, err
		}
		v.logger.Error("screenshot reply generation failed", "error", err)
		return ExecuteResult{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	if v.events != nil {
		if perr := v.events.Publish(hermes.SubjectOptionsGenerated, optionsEvent(result, override, o, "vision")); perr != nil {
			v.logger.Warn("event publish failed", "subject", hermes.SubjectOptionsGenerated, "error", perr)
		}
	}
	return result, nil
}
