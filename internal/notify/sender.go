// Package notify delivers the welcome notification sent after a user is
// created. Delivery is best effort: callers treat a failed send as non-fatal.
//
// Senders:
//   - LogSender writes the notification to the structured log (development).
//   - ResendSender renders the HTML welcome mail and sends it through Resend.
//   - QueueSender enqueues an "email:welcome" task on Redis via asynq; a
//     Worker consumes the queue and hands each task to another Sender.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-users-backend/internal/config"
)

// Welcome is the message sent to a newly created user. It doubles as the
// JSON payload of queued welcome tasks.
type Welcome struct {
	UserID          string    `json:"user_id"`
	Email           string    `json:"email"`
	Name            string    `json:"name,omitempty"`
	ActivationToken string    `json:"activation_token"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Sender delivers welcome notifications.
type Sender interface {
	SendWelcome(ctx context.Context, msg Welcome) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg Welcome) error

func (f SenderFunc) SendWelcome(ctx context.Context, msg Welcome) error { return f(ctx, msg) }

// ErrInvalidMessage is returned for a Welcome without a recipient.
var ErrInvalidMessage = errors.New("notify: welcome message has no recipient")

func (w Welcome) validate() error {
	if w.Email == "" {
		return ErrInvalidMessage
	}
	return nil
}

// ActivationLink appends the url-escaped token to base.
func ActivationLink(base, token string) string {
	return base + url.QueryEscape(token)
}

// LogSender records welcome notifications in the log instead of sending them.
type LogSender struct {
	Logger        zerolog.Logger
	ActivationURL string
}

func (s LogSender) SendWelcome(ctx context.Context, msg Welcome) error {
	if err := msg.validate(); err != nil {
		return err
	}
	s.Logger.Info().
		Str("user_id", msg.UserID).
		Str("to", msg.Email).
		Str("activation_link", ActivationLink(s.ActivationURL, msg.ActivationToken)).
		Time("expires_at", msg.ExpiresAt).
		Msg("welcome notification")
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// Build returns the Sender selected by cfg.Driver plus a closer releasing its
// resources.
func Build(cfg config.NotifyConfig, logger zerolog.Logger) (Sender, io.Closer, error) {
	noop := closerFunc(func() error { return nil })
	switch cfg.Driver {
	case "", "log":
		return LogSender{Logger: logger, ActivationURL: cfg.ActivationURL}, noop, nil
	case "resend":
		s, err := NewResendSender(cfg.ResendAPIKey, cfg.MailFrom, cfg.ActivationURL)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil
	case "queue":
		q := NewQueueSender(cfg.RedisAddr)
		return q, q, nil
	default:
		return nil, nil, fmt.Errorf("notify: unknown driver %q", cfg.Driver)
	}
}
