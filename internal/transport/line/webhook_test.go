package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"linepress/internal/transport"
	"linepress/pkg/logx"
)

const testSecret = "shhh"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(Config{
		ChannelToken:    "token",
		ChannelSecret:   testSecret,
		MinPushInterval: time.Millisecond,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func signedRequest(body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	req.Header.Set("X-Line-Signature", sign(body))
	return req
}

func TestWebhookDispatchesTextMessages(t *testing.T) {
	t.Parallel()

	got := make(chan transport.InboundEvent, 4)
	h := webhookAdapter(t).WebhookHandler(context.Background(), func(ctx context.Context, ev transport.InboundEvent) {
		got <- ev
	})

	body := []byte(`{"events":[
		{"type":"message","replyToken":"rt1","source":{"userId":"U1"},"message":{"type":"text","text":"AI 台積電"}},
		{"type":"follow","source":{"userId":"U2"}},
		{"type":"message","replyToken":"rt2","source":{"groupId":"G1"},"message":{"type":"image"}}
	]}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	select {
	case ev := <-got:
		if ev.ReplyToken != "rt1" || ev.From != "U1" || ev.Text != "AI 台積電" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("text event never dispatched")
	}
	select {
	case ev := <-got:
		t.Fatalf("unexpected extra event %+v, want only the text message", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebhookAcksBeforeRunCompletes(t *testing.T) {
	t.Parallel()

	started := make(chan context.Context, 1)
	release := make(chan struct{})
	done := make(chan struct{})
	h := webhookAdapter(t).WebhookHandler(context.Background(), func(ctx context.Context, ev transport.InboundEvent) {
		started <- ctx
		<-release
		close(done)
	})

	body := []byte(`{"events":[{"type":"message","replyToken":"rt","source":{"userId":"U1"},"message":{"type":"text","text":"ai"}}]}`)
	reqCtx, cancelReq := context.WithCancel(context.Background())
	req := signedRequest(body).WithContext(reqCtx)
	rec := httptest.NewRecorder()

	// ServeHTTP must return 200 while the handler is still blocked; a
	// synchronous dispatch would deadlock here.
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want immediate 200", rec.Code)
	}

	// The webhook client going away must not cancel the in-flight run.
	cancelReq()
	var hctx context.Context
	select {
	case hctx = <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never dispatched")
	}
	if hctx.Err() != nil {
		t.Fatalf("dispatch context died with the request: %v", hctx.Err())
	}
	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never finished")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	called := false
	h := webhookAdapter(t).WebhookHandler(context.Background(), func(ctx context.Context, ev transport.InboundEvent) {
		called = true
	})

	body := []byte(`{"events":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/callback", bytes.NewReader(body))
	req.Header.Set("X-Line-Signature", "forged")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if called {
		t.Fatal("handler invoked for forged signature")
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	t.Parallel()

	h := webhookAdapter(t).WebhookHandler(context.Background(), func(ctx context.Context, ev transport.InboundEvent) {})
	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestListenWithoutWebhookAddr(t *testing.T) {
	t.Parallel()

	a := webhookAdapter(t) // no WebhookAddr
	err := a.Listen(context.Background(), func(ctx context.Context, ev transport.InboundEvent) {})
	if err != transport.ErrInboundDisabled {
		t.Fatalf("err = %v, want ErrInboundDisabled", err)
	}
}
