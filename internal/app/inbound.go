package app

import (
	"context"
	"strings"
	"time"

	"linepress/internal/news"
	"linepress/internal/transport"
	"linepress/pkg/logx"
)

// QueryHandler turns inbound subscriber messages into ad-hoc pipeline runs:
// the message text is the keyword set, an acknowledgement goes out on the
// one-shot reply token, and the finished digest is pushed.
type QueryHandler struct {
	log logx.Logger

	runner  queryRunner
	deliver *Deliverer
	adapter transport.Adapter

	// defaults supplies the current keyword/limit defaults per query so
	// hot-reloaded settings apply without a restart.
	defaults func() (keywords []string, limit int)
}

type queryRunner interface {
	Run(ctx context.Context, keywords []string, limit int) (news.Result, error)
}

func NewQueryHandler(runner queryRunner, deliver *Deliverer, adapter transport.Adapter, defaults func() ([]string, int), log logx.Logger) *QueryHandler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &QueryHandler{
		log:      log.With(logx.String("comp", "inbound")),
		runner:   runner,
		deliver:  deliver,
		adapter:  adapter,
		defaults: defaults,
	}
}

// Handle processes one inbound event. Failures are answered as text so the
// subscriber always hears back; nothing is returned to the transport.
func (q *QueryHandler) Handle(ctx context.Context, ev transport.InboundEvent) {
	defKeywords, limit := q.defaults()
	keywords := strings.Fields(ev.Text)
	if len(keywords) == 0 {
		keywords = defKeywords
	}

	// A fresh run fetches and summarizes several articles, which takes a
	// while; acknowledge first. The reply token is one-shot, so the digest
	// itself is pushed when it is ready.
	q.replyText(ctx, ev, "📡 正在為你蒐集並整理新聞，請稍候幾分鐘…")

	start := time.Now()
	res, err := q.runner.Run(ctx, keywords, limit)
	if err != nil {
		q.log.Error("ad-hoc run failed", logx.String("from", ev.From), logx.Err(err))
		q.push(ctx, ev.From, "❌ 這次摘要產生失敗了，請稍後再試。")
		return
	}
	q.log.Info("ad-hoc digest ready",
		logx.String("from", ev.From),
		logx.Bool("cached", res.Cached),
		logx.Duration("took", time.Since(start)))

	if err := q.deliver.SendDigest(ctx, ev.From, keywords, res); err != nil {
		q.log.Warn("ad-hoc delivery failed", logx.String("from", ev.From), logx.Err(err))
	}
}

// replyText answers using the reply token when present; the adapter falls
// back to push when the token is consumed or the channel has none.
func (q *QueryHandler) replyText(ctx context.Context, ev transport.InboundEvent, text string) {
	if err := q.adapter.Reply(ctx, ev.ReplyToken, ev.From, []string{text}); err != nil {
		q.log.Warn("reply failed", logx.String("to", ev.From), logx.Err(err))
	}
}

func (q *QueryHandler) push(ctx context.Context, to, text string) {
	if err := q.adapter.Push(ctx, to, []string{text}); err != nil {
		q.log.Warn("push failed", logx.String("to", to), logx.Err(err))
	}
}
