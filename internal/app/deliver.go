package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"linepress/internal/news"
	"linepress/internal/transport"
	"linepress/pkg/logx"
)

// Deliverer formats a pipeline result and pushes it over the configured
// channel. It satisfies scheduler.DigestSender.
type Deliverer struct {
	log     logx.Logger
	adapter transport.Adapter

	messageLimit  int
	showReasoning bool
	loc           *time.Location
}

func NewDeliverer(adapter transport.Adapter, messageLimit int, showReasoning bool, loc *time.Location, log logx.Logger) *Deliverer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if messageLimit <= 0 {
		messageLimit = 5000
	}
	if loc == nil {
		loc = time.Local
	}
	return &Deliverer{
		log:           log.With(logx.String("comp", "deliver")),
		adapter:       adapter,
		messageLimit:  messageLimit,
		showReasoning: showReasoning,
		loc:           loc,
	}
}

func (d *Deliverer) SendDigest(ctx context.Context, to string, keywords []string, res news.Result) error {
	segments := d.Segments(keywords, res)
	if len(segments) == 0 {
		return nil
	}
	d.log.Info("delivering digest",
		logx.String("to", to),
		logx.Int("segments", len(segments)),
		logx.Bool("cached", res.Cached))
	return d.adapter.Push(ctx, to, segments)
}

// Segments renders the result into ready-to-send message segments: an
// optional reasoning message first, then the digest itself split to the
// transport limit.
func (d *Deliverer) Segments(keywords []string, res news.Result) []string {
	var segments []string
	if d.showReasoning && strings.TrimSpace(res.Reasoning) != "" {
		segments = append(segments, transport.Split("💭 "+strings.TrimSpace(res.Reasoning), d.messageLimit)...)
	}
	segments = append(segments, transport.Split(FormatDigest(keywords, res, d.loc), d.messageLimit)...)
	return segments
}

// FormatDigest wraps the digest body with a theme header and a generation
// footer. Cached digests are labelled so subscribers understand why two
// pushes in a row can carry identical text.
func FormatDigest(keywords []string, res news.Result, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder

	theme := strings.Join(keywords, "、")
	if theme == "" {
		theme = "每日新聞"
	}
	fmt.Fprintf(&b, "📰 這份新聞摘要根據「%s」主題產生\n\n", theme)
	b.WriteString(strings.TrimSpace(res.Entry.Text))

	if !res.Entry.GeneratedAt.IsZero() {
		stamp := res.Entry.GeneratedAt.In(loc).Format("2006-01-02 15:04")
		if res.Cached {
			fmt.Fprintf(&b, "\n\n🕘 產生於 %s（快取）", stamp)
		} else {
			fmt.Fprintf(&b, "\n\n🕘 產生於 %s", stamp)
		}
	}
	return b.String()
}
