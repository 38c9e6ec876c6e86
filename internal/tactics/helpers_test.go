package tactics

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/MikeSquared-Agency/parley/internal/llm"
	"github.com/MikeSquared-Agency/parley/internal/persona"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLLM answers every call with respond and records the requests.
type fakeLLM struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  func(call int, req llm.Request) (string, error)
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	call := len(f.requests)
	f.mu.Unlock()
	return f.respond(call, req)
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func always(text string) func(int, llm.Request) (string, error) {
	return func(int, llm.Request) (string, error) { return text, nil }
}

type fixedSampler []int

func (f fixedSampler) Sample(n, k int) []int { return f }

// testCatalog always samples TSUNDERE, YANDERE, KUUDERE.
func testCatalog(t *testing.T) *persona.Catalog {
	t.Helper()
	c, err := persona.Load(fixedSampler{0, 1, 2})
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

type recordedEvent struct {
	subject string
	data    any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) Publish(subject string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{subject, data})
	return nil
}

const validAnalysisJSON = `{
  "summary": "对方在撒娇求关注",
  "emotion_score": 1,
  "intent": "SEEKING_ATTENTION",
  "strategy": "TEASE",
  "confidence": 0.8,
  "burst_detected": false,
  "pressure_level": 1
}`

const validOptionsJSON = `{
  "analysis": "她在等你主动，轻松接住就好",
  "options": [
    {"style": "TSUNDERE", "text": "哼，才不是特意来回你的", "kaomoji": "(￣^￣)", "score": 2},
    {"style": "YANDERE", "text": "你只能找我聊天哦，别人都不许", "kaomoji": "(◕‿◕)", "score": 1},
    {"style": "KUUDERE", "text": "嗯。在。说吧", "kaomoji": "(._.)", "score": 0}
  ]
}`

func newTestPipeline(t *testing.T, provider llm.Provider, events Publisher) *Pipeline {
	t.Helper()
	inv := llm.NewInvoker(provider, llm.InvokerConfig{Attempts: 3}, discardLogger())
	return NewPipeline(inv, testCatalog(t), events, DefaultConfig(), discardLogger())
}
