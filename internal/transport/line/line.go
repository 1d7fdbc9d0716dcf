// Package line implements delivery over the LINE Messaging API.
package line

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

const defaultAPIBase = "https://api.line.me"

// maxMessagesPerCall is LINE's per-request message cap.
const maxMessagesPerCall = 5

type Config struct {
	ChannelToken string
	APIBase      string

	// ChannelSecret signs webhook payloads; required only when listening
	// for inbound messages.
	ChannelSecret string

	// WebhookAddr is the listen address for the inbound webhook server
	// (empty disables inbound handling).
	WebhookAddr string

	// MinPushInterval spaces consecutive push calls; LINE rate-limits
	// aggressive senders with 429s.
	MinPushInterval time.Duration
}

type Adapter struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	base    string
	limiter *rate.Limiter

	// retryDelay is the wait before the single 429 retry.
	retryDelay time.Duration
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.ChannelToken) == "" {
		return nil, errors.New("line channel token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	interval := cfg.MinPushInterval
	if interval <= 0 {
		interval = 1200 * time.Millisecond
	}
	return &Adapter{
		cfg:        cfg,
		log:        log,
		http:       &http.Client{Timeout: 20 * time.Second},
		base:       base,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		retryDelay: 3 * time.Second,
	}, nil
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Reply answers with the one-shot reply token; segments beyond the API's
// per-call cap — and the whole batch when the token is already consumed —
// fall back to Push.
func (a *Adapter) Reply(ctx context.Context, replyToken string, to string, segments []string) error {
	if len(segments) == 0 {
		return nil
	}
	if strings.TrimSpace(replyToken) == "" {
		return a.Push(ctx, to, segments)
	}

	head := segments
	if len(head) > maxMessagesPerCall {
		head = head[:maxMessagesPerCall]
	}
	payload := map[string]any{"replyToken": replyToken, "messages": toMessages(head)}
	if err := a.post(ctx, "/v2/bot/message/reply", payload); err != nil {
		a.log.Warn("reply failed; falling back to push", logx.Err(err))
		return a.Push(ctx, to, segments)
	}
	if len(segments) > len(head) {
		return a.Push(ctx, to, segments[len(head):])
	}
	return nil
}

// Push sends each segment as its own message, paced by the limiter, with
// one delayed retry on 429.
func (a *Adapter) Push(ctx context.Context, to string, segments []string) error {
	if strings.TrimSpace(to) == "" {
		return errors.New("push recipient is empty")
	}
	for i, seg := range segments {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		payload := map[string]any{"to": to, "messages": toMessages([]string{seg})}
		err := a.post(ctx, "/v2/bot/message/push", payload)
		if isRateLimited(err) {
			a.log.Warn("push rate limited; retrying once", logx.Int("segment", i+1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.retryDelay):
			}
			err = a.post(ctx, "/v2/bot/message/push", payload)
		}
		if err != nil {
			return fmt.Errorf("push segment %d/%d: %w", i+1, len(segments), err)
		}
	}
	return nil
}

var errRateLimited = errors.New("line rate limited")

func isRateLimited(err error) bool { return errors.Is(err, errRateLimited) }

func (a *Adapter) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.ChannelToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return errRateLimited
	}
	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("line api %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

func toMessages(segments []string) []textMessage {
	msgs := make([]textMessage, 0, len(segments))
	for _, s := range segments {
		msgs = append(msgs, textMessage{Type: "text", Text: s})
	}
	return msgs
}
