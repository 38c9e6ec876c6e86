package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOpenAIComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req["model"] != "test-model" {
			t.Errorf("expected model test-model, got %v", req["model"])
		}
		if req["temperature"] != 0.3 {
			t.Errorf("expected temperature 0.3, got %v", req["temperature"])
		}
		rf, _ := req["response_format"].(map[string]any)
		if rf["type"] != "json_object" {
			t.Errorf("expected json response format, got %v", req["response_format"])
		}
		msgs, _ := req["messages"].([]any)
		if len(msgs) != 2 {
			t.Fatalf("expected system+user messages, got %d", len(msgs))
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"ok":true}`}, "finish_reason": "stop"},
			},
		})
	}))
	defer server.Close()

	c := NewOpenAI("test-key", server.URL+"/v1/", "test-model", 5*time.Second)
	got, err := c.Complete(context.Background(), Request{
		System: "sys", Prompt: "hi", Temperature: 0.3, MaxTokens: 64, JSON: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"ok":true}` {
		t.Errorf("unexpected content %q", got)
	}
}

func TestOpenAIComplete_ImageParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		last := req.Messages[len(req.Messages)-1]
		if !strings.Contains(string(last.Content), "data:image/jpeg;base64,") {
			t.Errorf("expected inline data uri, got %s", last.Content)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "seen"}}},
		})
	}))
	defer server.Close()

	c := NewOpenAI("k", server.URL, "vl", 5*time.Second)
	got, err := c.Complete(context.Background(), Request{
		Prompt: "look",
		Image:  &Image{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "seen" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestOpenAIComplete_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
		}))

		c := NewOpenAI("k", server.URL, "m", 5*time.Second)
		_, err := c.Complete(context.Background(), Request{Prompt: "x"})
		server.Close()

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: expected APIError, got %v", tt.status, err)
		}
		if apiErr.Message != "boom" {
			t.Errorf("status %d: expected decoded message, got %q", tt.status, apiErr.Message)
		}
		if errors.Is(err, ErrTransient) != tt.transient {
			t.Errorf("status %d: transient=%v, want %v", tt.status, !tt.transient, tt.transient)
		}
	}
}

func TestOpenAIComplete_TimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewOpenAI("k", server.URL, "m", 20*time.Millisecond)
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestOpenAIComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	c := NewOpenAI("k", server.URL, "m", time.Second)
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected malformed output, got %v", err)
	}
}

func TestOpenAIComplete_ErrorBodyWithOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"upstream model overloaded","type":"server_error"}}`))
	}))
	defer server.Close()

	c := NewOpenAI("k", server.URL, "m", time.Second)
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "upstream model overloaded" || apiErr.Type != "server_error" {
		t.Errorf("provider message lost: %+v", apiErr)
	}
	if errors.Is(err, ErrMalformedOutput) {
		t.Error("error body should not read as malformed output")
	}
	if !Retryable(err) {
		t.Error("expected upstream failure to be retryable")
	}
}

func TestParseImage(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	img, err := ParseImage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.MIMEType != "image/png" || string(img.Data) != "png-bytes" {
		t.Errorf("unexpected image %+v", img)
	}

	img, err = ParseImage("data:image/webp;base64," + raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.MIMEType != "image/webp" {
		t.Errorf("expected webp, got %s", img.MIMEType)
	}
	if DataURI(img) != "data:image/webp;base64,"+raw {
		t.Errorf("data uri did not round trip: %s", DataURI(img))
	}

	for _, bad := range []string{"", "data:image/png;base64", "%%%"} {
		if _, err := ParseImage(bad); !errors.Is(err, ErrInvariantViolation) {
			t.Errorf("ParseImage(%q): expected invariant violation, got %v", bad, err)
		}
	}
}
