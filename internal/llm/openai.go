package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAI speaks the chat-completions protocol. SiliconFlow, DeepSeek and
// most self-hosted gateways accept the same shape.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

func NewOpenAI(apiKey, baseURL, model string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *OpenAI) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *OpenAI) Complete(ctx context.Context, r Request) (string, error) {
	var messages []chatMessage
	if r.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: r.System})
	}
	if r.Image != nil {
		messages = append(messages, chatMessage{Role: "user", Content: []contentPart{
			{Type: "image_url", ImageURL: &imageURL{URL: DataURI(r.Image)}},
			{Type: "text", Text: r.Prompt},
		}})
	} else {
		messages = append(messages, chatMessage{Role: "user", Content: r.Prompt})
	}

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	}
	if r.JSON {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", transportError(ctx, c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w: %w", ErrTransient, err)
	}

	var chatResp chatResponse
	decodeErr := json.Unmarshal(respBody, &chatResp)

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Provider: c.Name(), StatusCode: resp.StatusCode, Message: string(respBody)}
		if decodeErr == nil && chatResp.Error != nil {
			apiErr.Type = chatResp.Error.Type
			apiErr.Message = chatResp.Error.Message
		}
		return "", apiErr
	}
	if decodeErr != nil {
		return "", fmt.Errorf("unmarshal response: %w: %w", ErrTransient, decodeErr)
	}
	// Some gateways report upstream failures in a 200 body.
	if chatResp.Error != nil && len(chatResp.Choices) == 0 {
		return "", &APIError{
			Provider:   c.Name(),
			StatusCode: http.StatusBadGateway,
			Type:       chatResp.Error.Type,
			Message:    chatResp.Error.Message,
		}
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty choices: %w", ErrMalformedOutput)
	}

	return chatResp.Choices[0].Message.Content, nil
}

// DataURI renders an image the way chat-completions expects it inline.
func DataURI(img *Image) string {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// ParseImage accepts raw base64 or a data URI.
func ParseImage(s string) (*Image, error) {
	s = strings.TrimSpace(s)
	mime := "image/png"
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, fmt.Errorf("%w: data uri has no payload", ErrInvariantViolation)
		}
		if m, _, _ := strings.Cut(header, ";"); m != "" {
			mime = m
		}
		s = payload
	}
	if s == "" {
		return nil, fmt.Errorf("%w: empty image", ErrInvariantViolation)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: image is not base64: %v", ErrInvariantViolation, err)
	}
	return &Image{MIMEType: mime, Data: data}, nil
}
