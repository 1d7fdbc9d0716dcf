package transport

import (
	"context"
	"errors"
)

// ErrInboundDisabled is returned by Listen when the channel has no inbound
// surface configured; callers treat it as a clean no-op.
var ErrInboundDisabled = errors.New("inbound handling not configured")

// Adapter is the outbound delivery capability.
//
// Reply answers an inbound event using its one-shot reply token; Push sends
// unsolicited messages. Both take pre-split segments and deliver them in
// order. A Reply failure should fall back to Push where the channel
// supports it.
type Adapter interface {
	Reply(ctx context.Context, replyToken string, to string, segments []string) error
	Push(ctx context.Context, to string, segments []string) error
}

// InboundEvent is one text message from a subscriber.
type InboundEvent struct {
	// ReplyToken is the channel's one-shot reply credential; empty on
	// channels without a reply concept.
	ReplyToken string
	// From identifies the sender and doubles as the push recipient.
	From string
	Text string
}

// Handler processes one inbound event.
type Handler func(ctx context.Context, ev InboundEvent)

// Listener is implemented by adapters that can receive inbound messages.
// Listen blocks until ctx is cancelled or the channel fails.
type Listener interface {
	Listen(ctx context.Context, h Handler) error
}
