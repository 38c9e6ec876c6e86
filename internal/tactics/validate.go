package tactics

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/MikeSquared-Agency/parley/internal/llm"
	"github.com/MikeSquared-Agency/parley/internal/persona"
)

// StripFences removes a markdown code fence around a model reply.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	// Drop the info string (```json) up to the first newline.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "json")
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// decodeReply turns a model reply into v. Syntax problems are
// ErrMalformedOutput; a well-formed document with wrongly typed fields is
// ErrSchemaViolation.
func decodeReply(raw string, v any) error {
	body := StripFences(raw)
	if !json.Valid([]byte(body)) {
		candidates := findJSONObjects(body)
		if len(candidates) == 0 {
			return fmt.Errorf("%w: no JSON object in reply", llm.ErrMalformedOutput)
		}
		body = candidates[0]
	}

	if err := json.Unmarshal([]byte(body), v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: field %s: %v", llm.ErrSchemaViolation, typeErr.Field, err)
		}
		return fmt.Errorf("%w: %v", llm.ErrMalformedOutput, err)
	}
	return nil
}

// findJSONObjects returns balanced top-level {...} spans, skipping braces
// inside strings.
func findJSONObjects(s string) []string {
	var out []string
	depth, start := 0, -1
	inString, escape := false, false

	for i := 0; i < len(s); i++ {
		b := s[i]
		if escape {
			escape = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escape = true
			case '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					if candidate := s[start : i+1]; json.Valid([]byte(candidate)) {
						out = append(out, candidate)
					}
					start = -1
				}
			}
		}
	}
	return out
}

func wholeNumber(name string, f float64) (int, error) {
	if math.Trunc(f) != f {
		return 0, fmt.Errorf("%w: %s must be an integer, got %g", llm.ErrSchemaViolation, name, f)
	}
	return int(f), nil
}

type analysisReply struct {
	Summary       *string  `json:"summary"`
	EmotionScore  *float64 `json:"emotion_score"`
	Intent        *string  `json:"intent"`
	Strategy      *string  `json:"strategy"`
	Confidence    *float64 `json:"confidence"`
	BurstDetected *bool    `json:"burst_detected"`
	PressureLevel *float64 `json:"pressure_level"`
}

// ParseAnalysis decodes and validates a phase-one reply.
func ParseAnalysis(raw string) (SituationAnalysis, error) {
	var r analysisReply
	if err := decodeReply(raw, &r); err != nil {
		return SituationAnalysis{}, err
	}

	var missing []string
	if r.Summary == nil || strings.TrimSpace(*r.Summary) == "" {
		missing = append(missing, "summary")
	}
	if r.EmotionScore == nil {
		missing = append(missing, "emotion_score")
	}
	if r.Strategy == nil {
		missing = append(missing, "strategy")
	}
	if r.Confidence == nil {
		missing = append(missing, "confidence")
	}
	if len(missing) > 0 {
		return SituationAnalysis{}, fmt.Errorf("%w: missing %s", llm.ErrSchemaViolation, strings.Join(missing, ", "))
	}

	emotion, err := wholeNumber("emotion_score", *r.EmotionScore)
	if err != nil {
		return SituationAnalysis{}, err
	}

	a := SituationAnalysis{
		Summary:      strings.TrimSpace(*r.Summary),
		EmotionScore: emotion,
		Intent:       IntentUnknown,
		Strategy:     Strategy(strings.ToUpper(strings.TrimSpace(*r.Strategy))),
		Confidence:   *r.Confidence,
	}
	if r.Intent != nil && strings.TrimSpace(*r.Intent) != "" {
		a.Intent = Intent(strings.ToUpper(strings.TrimSpace(*r.Intent)))
	}
	if r.BurstDetected != nil {
		a.BurstDetected = *r.BurstDetected
	}
	if r.PressureLevel != nil {
		if a.PressureLevel, err = wholeNumber("pressure_level", *r.PressureLevel); err != nil {
			return SituationAnalysis{}, err
		}
	}

	if err := a.Validate(); err != nil {
		return SituationAnalysis{}, err
	}
	return a, nil
}

type optionReply struct {
	Style   string   `json:"style"`
	Text    *string  `json:"text"`
	Kaomoji string   `json:"kaomoji"`
	Score   *float64 `json:"score"`
}

type optionsReply struct {
	Analysis *string       `json:"analysis"`
	Options  []optionReply `json:"options"`
}

// ParseOptions decodes and validates a phase-two reply. Every option must be
// written in one of styles, each style used once.
func ParseOptions(raw string, styles []persona.Persona) (ExecuteResult, error) {
	var r optionsReply
	if err := decodeReply(raw, &r); err != nil {
		return ExecuteResult{}, err
	}
	if r.Analysis == nil || strings.TrimSpace(*r.Analysis) == "" {
		return ExecuteResult{}, fmt.Errorf("%w: missing analysis", llm.ErrSchemaViolation)
	}
	if len(r.Options) != OptionCount {
		return ExecuteResult{}, fmt.Errorf("%w: got %d options, want %d", llm.ErrSchemaViolation, len(r.Options), OptionCount)
	}

	byCode := make(map[string]persona.Persona, len(styles))
	for _, p := range styles {
		byCode[p.Code] = p
	}
	used := make(map[string]bool, OptionCount)

	res := ExecuteResult{AnalysisText: strings.TrimSpace(*r.Analysis)}
	for i, o := range r.Options {
		code := strings.ToUpper(strings.TrimSpace(o.Style))
		p, ok := byCode[code]
		if !ok {
			return ExecuteResult{}, fmt.Errorf("%w: option %d has unexpected style %q", llm.ErrSchemaViolation, i, o.Style)
		}
		if used[code] {
			return ExecuteResult{}, fmt.Errorf("%w: style %s used twice", llm.ErrSchemaViolation, code)
		}
		used[code] = true

		if o.Text == nil {
			return ExecuteResult{}, fmt.Errorf("%w: option %d missing text", llm.ErrSchemaViolation, i)
		}
		if o.Score == nil {
			return ExecuteResult{}, fmt.Errorf("%w: option %d missing score", llm.ErrSchemaViolation, i)
		}
		score, err := wholeNumber("score", *o.Score)
		if err != nil {
			return ExecuteResult{}, err
		}

		res.Options = append(res.Options, ReplyOption{
			Style:     p.Code,
			StyleName: p.DisplayName,
			Text:      strings.TrimSpace(*o.Text),
			Kaomoji:   strings.TrimSpace(o.Kaomoji),
			Score:     score,
		})
	}

	if err := res.Validate(); err != nil {
		return ExecuteResult{}, err
	}
	return res, nil
}
