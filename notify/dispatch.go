package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Button is an inline action attached to a message. Action is the opaque
// token echoed back when the button is pressed.
type Button struct {
	Label  string
	Action string
}

// Sender delivers one message to one chat and reports whether it arrived.
type Sender interface {
	Send(ctx context.Context, chatID, text string, buttons []Button) bool
}

// Compose words a message for one recipient.
type Compose func(Member) string

// Dispatcher sends the same notification to a list of members.
type Dispatcher struct {
	sender Sender
	log    logrus.FieldLogger
}

func NewDispatcher(sender Sender, log logrus.FieldLogger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{sender: sender, log: log.WithField("component", "dispatch")}
}

// Dispatch sends one message per recipient and returns how many were
// delivered. A failed recipient does not stop the others.
func (d *Dispatcher) Dispatch(ctx context.Context, recipients []Member, compose Compose, buttons []Button) int {
	if len(recipients) == 0 {
		d.log.Warn("dispatch with no recipients")
		return 0
	}
	delivered := 0
	for _, m := range recipients {
		if ctx.Err() != nil {
			break
		}
		if d.sender.Send(ctx, m.ChatID, compose(m), buttons) {
			delivered++
			continue
		}
		d.log.WithField("chat_id", m.ChatID).Warn("delivery failed")
	}
	if delivered == 0 {
		d.log.WithField("recipients", len(recipients)).Warn("no recipient could be reached")
	}
	return delivered
}
