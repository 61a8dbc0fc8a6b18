package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// capturer is the subset of *sentry.Client used by SentryReporter.
type capturer interface {
	CaptureException(exception error, hint *sentry.EventHint, scope sentry.EventModifier) *sentry.EventID
	Flush(timeout time.Duration) bool
}

// SentryOptions configures NewSentryReporter.
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
	// FlushTimeout bounds Close. Defaults to 2s.
	FlushTimeout time.Duration
}

// SentryReporter sends errors to Sentry and returns the event id.
type SentryReporter struct {
	client       capturer
	flushTimeout time.Duration
}

// NewSentryReporter builds a reporter backed by its own Sentry client. It
// fails with ErrReporterUnavailable when the DSN is empty or invalid.
func NewSentryReporter(opts SentryOptions) (*SentryReporter, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, fmt.Errorf("%w: sentry DSN is not configured", ErrReporterUnavailable)
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReporterUnavailable, err)
	}
	return newSentryReporter(client, opts.FlushTimeout), nil
}

func newSentryReporter(c capturer, flush time.Duration) *SentryReporter {
	if flush <= 0 {
		flush = 2 * time.Second
	}
	return &SentryReporter{client: c, flushTimeout: flush}
}

func (r *SentryReporter) Report(ctx context.Context, err error) (string, error) {
	if cerr := ctx.Err(); cerr != nil {
		return "", cerr
	}
	id := r.client.CaptureException(err, &sentry.EventHint{Context: ctx, OriginalException: err}, nil)
	if id == nil {
		return "", errors.New("sentry: event was dropped")
	}
	return string(*id), nil
}

// Close flushes buffered events.
func (r *SentryReporter) Close() error {
	if !r.client.Flush(r.flushTimeout) {
		return errors.New("sentry: flush timed out")
	}
	return nil
}
