package line

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"linepress/internal/transport"
	"linepress/pkg/logx"
)

const maxWebhookBody = 1 * 1024 * 1024

type webhookEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		UserID  string `json:"userId"`
		GroupID string `json:"groupId"`
		RoomID  string `json:"roomId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

type webhookPayload struct {
	Events []webhookEvent `json:"events"`
}

// Listen serves the LINE webhook endpoint and dispatches inbound text
// messages to h. It blocks until ctx is cancelled.
func (a *Adapter) Listen(ctx context.Context, h transport.Handler) error {
	if strings.TrimSpace(a.cfg.WebhookAddr) == "" {
		return transport.ErrInboundDisabled
	}
	if strings.TrimSpace(a.cfg.ChannelSecret) == "" {
		return errors.New("line channel secret is required for the webhook")
	}

	mux := http.NewServeMux()
	mux.Handle("/callback", a.WebhookHandler(ctx, h))

	srv := &http.Server{
		Addr:              a.cfg.WebhookAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("line webhook listening", logx.String("addr", a.cfg.WebhookAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// WebhookHandler verifies the X-Line-Signature and dispatches each text
// message event. Non-message events are acknowledged and ignored.
//
// The 200 goes out before any event is handled, and events run on their
// own goroutine bound to ctx rather than the request context: a news run
// takes minutes, LINE retries webhook calls whose acknowledgement is slow,
// and a request-scoped dispatch would be cancelled the moment the webhook
// client gives up.
func (a *Adapter) WebhookHandler(ctx context.Context, h transport.Handler) http.Handler {
	if ctx == nil {
		ctx = context.Background()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if !validSignature(a.cfg.ChannelSecret, body, r.Header.Get("X-Line-Signature")) {
			a.log.Warn("webhook signature mismatch")
			w.WriteHeader(http.StatusForbidden)
			return
		}

		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)

		var inbound []transport.InboundEvent
		for _, ev := range payload.Events {
			if ev.Type != "message" || ev.Message.Type != "text" {
				continue
			}
			from := ev.Source.UserID
			if from == "" {
				from = ev.Source.GroupID
			}
			if from == "" {
				from = ev.Source.RoomID
			}
			if from == "" {
				continue
			}
			inbound = append(inbound, transport.InboundEvent{
				ReplyToken: ev.ReplyToken,
				From:       from,
				Text:       ev.Message.Text,
			})
		}
		if len(inbound) == 0 {
			return
		}
		// One goroutine per request keeps events from the same call ordered.
		go func() {
			for _, ev := range inbound {
				h(ctx, ev)
			}
		}()
	})
}

func validSignature(secret string, body []byte, header string) bool {
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(want), []byte(header)) == 1
}
