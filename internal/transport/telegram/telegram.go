// Package telegram implements delivery over the Telegram Bot API.
//
// Telegram has no reply-token concept, so Reply degrades to Push.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"linepress/internal/transport"
	"linepress/pkg/logx"
)

type Config struct {
	Token           string
	PollTimeout     time.Duration
	MinPushInterval time.Duration
}

type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	interval := cfg.MinPushInterval
	if interval <= 0 {
		interval = 1200 * time.Millisecond
	}
	return &Adapter{
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}, nil
}

func (a *Adapter) Reply(ctx context.Context, replyToken string, to string, segments []string) error {
	_ = replyToken
	return a.Push(ctx, to, segments)
}

// Listen long-polls for inbound text messages and dispatches them to h.
// It blocks until ctx is cancelled.
func (a *Adapter) Listen(ctx context.Context, h transport.Handler) error {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		h(ctx, transport.InboundEvent{
			From: strconv.FormatInt(c.Chat().ID, 10),
			Text: c.Text(),
		})
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.bot.Start()
	}()

	<-ctx.Done()
	a.bot.Stop()
	<-done
	return ctx.Err()
}

func (a *Adapter) Push(ctx context.Context, to string, segments []string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(to), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram recipient %q: %w", to, err)
	}
	rcpt := tele.ChatID(chatID)
	for i, seg := range segments {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := a.bot.Send(rcpt, seg); err != nil {
			return fmt.Errorf("send segment %d/%d: %w", i+1, len(segments), err)
		}
	}
	return nil
}
