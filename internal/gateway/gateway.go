// Package gateway abstracts the delivery transport. The engine only invokes
// Send and interprets the error; message composition and the actual wire
// (SMTP, APNs, websocket) belong to the surrounding platform.
package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"nudge/internal/domain"
)

// Notification is one deliverable reminder.
type Notification struct {
	UserID  uint64
	JobID   uint64
	Kind    domain.Kind
	Channel domain.Channel
	Payload map[string]any
}

type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Mux routes by channel. A channel with no registered sender is a delivery
// failure, not a silent drop.
type Mux struct {
	senders map[domain.Channel]Sender
}

func NewMux() *Mux {
	return &Mux{senders: map[domain.Channel]Sender{}}
}

func (m *Mux) Register(ch domain.Channel, s Sender) {
	m.senders[ch] = s
}

func (m *Mux) Send(ctx context.Context, n Notification) error {
	s, ok := m.senders[n.Channel]
	if !ok {
		return fmt.Errorf("no sender registered for channel %q", n.Channel)
	}
	return s.Send(ctx, n)
}

// LogSender writes deliveries to the log. Default sender in development and
// the in-app channel's stand-in until the platform wires a real transport.
type LogSender struct {
	Log *zap.Logger
}

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.Log.Info("delivered",
		zap.Uint64("user_id", n.UserID),
		zap.Uint64("job_id", n.JobID),
		zap.String("kind", string(n.Kind)),
		zap.String("channel", string(n.Channel)),
	)
	return nil
}
