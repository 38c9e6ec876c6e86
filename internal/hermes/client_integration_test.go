//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_AnalysisEventRoundTrip(t *testing.T) {
	natsURL := skipWithoutNATS(t)

	client, err := NewClient(context.Background(), natsURL, os.Getenv("NATS_TOKEN"), slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	opts := []nats.Option{}
	if tok := os.Getenv("NATS_TOKEN"); tok != "" {
		opts = append(opts, nats.Token(tok))
	}
	listener, err := nats.Connect(natsURL, opts...)
	if err != nil {
		t.Fatalf("listener connect: %v", err)
	}
	defer listener.Close()

	received := make(chan AnalysisCompleted, 1)
	_, err = listener.Subscribe("parley.analysis.>", func(msg *nats.Msg) {
		var ev AnalysisCompleted
		json.Unmarshal(msg.Data, &ev)
		received <- ev
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := listener.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	err = client.Publish(SubjectAnalysisCompleted, AnalysisCompleted{
		Intent:    "FLIRTING",
		Strategy:  "TEASE",
		Source:    "text",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case ev := <-received:
		if ev.Intent != "FLIRTING" || ev.Strategy != "TEASE" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	if !client.Connected() {
		t.Error("expected client to report connected")
	}
}
