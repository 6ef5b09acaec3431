package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/notify-relay/internal/domain"
)

// Notification is one message for one recipient.
type Notification struct {
	To      string
	Subject string
	Body    string
	// ParseMode is the chat formatting mode, ignored by mail.
	ParseMode string
}

// Sender delivers notifications over one channel type.
type Sender interface {
	Type() domain.ChannelType
	Send(ctx context.Context, notification Notification) error
}

// Transport delivers a notification over a channel. Dispatcher implements it.
type Transport interface {
	Send(ctx context.Context, channel domain.ChannelType, notification Notification) error
}

// Dispatcher routes notifications to the sender registered for a channel.
type Dispatcher struct {
	senders map[domain.ChannelType]Sender
}

// NewDispatcher creates a dispatcher. A later sender replaces an earlier one
// of the same type.
func NewDispatcher(senders ...Sender) *Dispatcher {
	senderMap := make(map[domain.ChannelType]Sender)
	for _, s := range senders {
		senderMap[s.Type()] = s
	}
	return &Dispatcher{senders: senderMap}
}

// Send delivers through the sender for channel.
func (d *Dispatcher) Send(ctx context.Context, channel domain.ChannelType, notification Notification) error {
	sender, ok := d.senders[channel]
	if !ok {
		return NewNonRetryableError(fmt.Errorf("%w: %s", ErrNoSender, channel))
	}

	start := time.Now()
	err := sender.Send(ctx, notification)
	recordSendDuration(channel, time.Since(start))
	return err
}

// Channels lists the registered channel types.
func (d *Dispatcher) Channels() []domain.ChannelType {
	out := make([]domain.ChannelType, 0, len(d.senders))
	for t := range d.senders {
		out = append(out, t)
	}
	return out
}
