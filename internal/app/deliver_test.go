package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"linepress/internal/news"
	"linepress/internal/store"
	"linepress/pkg/logx"
)

type captureAdapter struct {
	mu     sync.Mutex
	pushes [][]string
	to     []string
}

func (c *captureAdapter) Reply(ctx context.Context, replyToken, to string, segments []string) error {
	return c.Push(ctx, to, segments)
}

func (c *captureAdapter) Push(ctx context.Context, to string, segments []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.to = append(c.to, to)
	c.pushes = append(c.pushes, segments)
	return nil
}

func sampleResult(cached bool) news.Result {
	return news.Result{
		Entry: store.DigestEntry{
			Key:         "ai",
			Text:        "🎙 今天的重點新聞！\nhttps://example.com/news/1",
			GeneratedAt: time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC),
			SourceCount: 1,
		},
		Cached: cached,
	}
}

func TestFormatDigestHeaderAndFooter(t *testing.T) {
	t.Parallel()

	loc, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		t.Fatal(err)
	}
	got := FormatDigest([]string{"AI", "台積電"}, sampleResult(false), loc)

	if !strings.HasPrefix(got, "📰 這份新聞摘要根據「AI、台積電」主題產生") {
		t.Fatalf("missing theme header:\n%s", got)
	}
	if !strings.Contains(got, "https://example.com/news/1") {
		t.Fatalf("digest body lost:\n%s", got)
	}
	// 01:00 UTC renders as 09:00 Taipei.
	if !strings.Contains(got, "產生於 2025-06-01 09:00") {
		t.Fatalf("missing localized generation stamp:\n%s", got)
	}
	if strings.Contains(got, "快取") {
		t.Fatalf("fresh digest labelled as cached:\n%s", got)
	}
}

func TestFormatDigestCachedAnnotation(t *testing.T) {
	t.Parallel()

	got := FormatDigest([]string{"ai"}, sampleResult(true), time.UTC)
	if !strings.Contains(got, "（快取）") {
		t.Fatalf("cached digest missing annotation:\n%s", got)
	}
}

func TestFormatDigestDefaultTheme(t *testing.T) {
	t.Parallel()

	got := FormatDigest(nil, sampleResult(false), time.UTC)
	if !strings.Contains(got, "「每日新聞」") {
		t.Fatalf("missing default theme:\n%s", got)
	}
}

func TestSendDigestSplitsAndPushes(t *testing.T) {
	t.Parallel()

	ad := &captureAdapter{}
	d := NewDeliverer(ad, 80, false, time.UTC, logx.Nop())

	res := sampleResult(false)
	res.Entry.Text = strings.Repeat("這是一段很長的新聞摘要內容。\n", 30)
	if err := d.SendDigest(context.Background(), "U1", []string{"ai"}, res); err != nil {
		t.Fatalf("SendDigest: %v", err)
	}

	if len(ad.pushes) != 1 || ad.to[0] != "U1" {
		t.Fatalf("pushes = %v to %v", ad.pushes, ad.to)
	}
	if len(ad.pushes[0]) < 2 {
		t.Fatalf("long digest not split: %d segments", len(ad.pushes[0]))
	}
	if !strings.HasPrefix(ad.pushes[0][0], "(1/") {
		t.Fatalf("first segment missing part prefix: %q", ad.pushes[0][0])
	}
}

func TestSendDigestReasoningLeads(t *testing.T) {
	t.Parallel()

	ad := &captureAdapter{}
	d := NewDeliverer(ad, 5000, true, time.UTC, logx.Nop())

	res := sampleResult(false)
	res.Reasoning = "先整理一下今天的重點"
	if err := d.SendDigest(context.Background(), "U1", []string{"ai"}, res); err != nil {
		t.Fatalf("SendDigest: %v", err)
	}

	segs := ad.pushes[0]
	if len(segs) != 2 {
		t.Fatalf("segments = %d, want reasoning + digest", len(segs))
	}
	if !strings.HasPrefix(segs[0], "💭 ") || !strings.Contains(segs[0], "先整理一下今天的重點") {
		t.Fatalf("first segment is not the reasoning: %q", segs[0])
	}
}

func TestSendDigestReasoningSuppressed(t *testing.T) {
	t.Parallel()

	ad := &captureAdapter{}
	d := NewDeliverer(ad, 5000, false, time.UTC, logx.Nop())

	res := sampleResult(false)
	res.Reasoning = "不該出現"
	if err := d.SendDigest(context.Background(), "U1", []string{"ai"}, res); err != nil {
		t.Fatalf("SendDigest: %v", err)
	}
	for _, seg := range ad.pushes[0] {
		if strings.Contains(seg, "不該出現") {
			t.Fatalf("reasoning delivered despite show_reasoning=false: %q", seg)
		}
	}
}
