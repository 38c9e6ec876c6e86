package tactics

import (
	"strings"
	"unicode/utf8"
)

const (
	burstMinLines      = 3 // this many lines is a burst on its own
	burstShortMinLines = 2 // fewer lines than burstMinLines need short ones
	burstShortLen      = 5 // a line of at most this many characters is "short"
	burstShortMinCount = 2
	maxPressure        = 5
)

// Burst is the local read of a multi-line message.
type Burst struct {
	Lines         int
	ShortLines    int
	Detected      bool
	PressureLevel int
}

// DetectBurst counts the non-blank lines of a message. Several lines, or two
// or more very short ones, read as a volley of rapid-fire texts.
func DetectBurst(message string) Burst {
	var b Burst
	for _, line := range strings.FieldsFunc(message, func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b.Lines++
		if utf8.RuneCountInString(line) <= burstShortLen {
			b.ShortLines++
		}
	}

	b.Detected = b.Lines >= burstMinLines ||
		(b.Lines >= burstShortMinLines && b.ShortLines >= burstShortMinCount)
	b.PressureLevel = min(b.Lines, maxPressure)
	return b
}

// Merge folds the local reading into a model verdict. The heuristic is a
// floor: it can raise burst and pressure but never lower them.
func (b Burst) Merge(a SituationAnalysis) SituationAnalysis {
	a.BurstDetected = a.BurstDetected || b.Detected
	a.PressureLevel = max(a.PressureLevel, b.PressureLevel)
	return a
}
