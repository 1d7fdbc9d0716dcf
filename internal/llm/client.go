package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"linepress/pkg/logx"
)

// Error kinds surfaced to callers; per-article summarization treats all of
// them as a drop, aggregation treats them as fatal to the run.
var (
	ErrTimeout         = errors.New("completion timed out")
	ErrRateLimited     = errors.New("completion rate limited")
	ErrInvalidResponse = errors.New("completion response invalid")
)

// Request is one chat-completion call.
type Request struct {
	System      string
	User        string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Completion splits a model response into an optional reasoning segment and
// the final answer. Reasoning is whatever the model wrapped in
// <think>...</think> (or reported out of band); Final is the answer text,
// falling back to the raw response when the answer segment is empty.
type Completion struct {
	Reasoning string
	Final     string
}

// Client is the completion capability consumed by the summarizer.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint.
type HTTPClient struct {
	log logx.Logger

	baseURL string
	apiKey  string

	http    *http.Client
	limiter *rate.Limiter
}

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RatePerMin int
}

func NewHTTPClient(cfg Config, log logx.Logger) *HTTPClient {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	var lim *rate.Limiter
	if cfg.RatePerMin > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60.0), 1)
	}
	return &HTTPClient{
		log:     log,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		limiter: lim,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if c.apiKey == "" {
		return Completion{}, fmt.Errorf("%w: api key not configured", ErrInvalidResponse)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Completion{}, err
		}
	}

	body, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return Completion{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Completion{}, ErrTimeout
		}
		return Completion{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Completion{}, ErrRateLimited
	}
	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Completion{}, fmt.Errorf("%w: HTTP %d: %s", ErrInvalidResponse, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Completion{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	text := extractText(cr)
	if strings.TrimSpace(text) == "" {
		return Completion{}, fmt.Errorf("%w: empty content", ErrInvalidResponse)
	}

	out := SplitThinking(text)
	// Reasoning-native backends report thinking out of band instead of
	// inline think tags.
	if out.Reasoning == "" && len(cr.Choices) > 0 {
		out.Reasoning = strings.TrimSpace(cr.Choices[0].Message.ReasoningContent)
	}
	c.log.Debug("completion ok",
		logx.String("model", req.Model),
		logx.Int("final_len", len(out.Final)),
		logx.Duration("dur", time.Since(start)))
	return out, nil
}

func extractText(cr chatResponse) string {
	if len(cr.Choices) == 0 {
		return ""
	}
	ch := cr.Choices[0]
	if s := strings.TrimSpace(ch.Message.Content); s != "" {
		return s
	}
	// Some backends put the answer in the legacy text field.
	if s := strings.TrimSpace(ch.Text); s != "" {
		return s
	}
	return ""
}
