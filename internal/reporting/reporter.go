// Package reporting forwards unexpected failures to one or more exception
// reporters and collects the identifiers they assign.
//
// A Reporter is anything that can record an error and hand back an opaque id
// (a log correlation id, a Sentry event id). The Dispatcher fans a failure
// out to every configured reporter with a per-reporter timeout and an overall
// ceiling, so a slow or broken reporter can never stall a request.
package reporting

import (
	"context"
	"errors"
)

// ErrReporterUnavailable is returned at construction time when a reporter is
// misconfigured (missing credentials, invalid DSN).
var ErrReporterUnavailable = errors.New("exception reporter unavailable")

// Reporter records err and returns the id it was stored under. An empty id
// with a nil error means the reporter accepted the error without assigning
// an id.
type Reporter interface {
	Report(ctx context.Context, err error) (string, error)
}

// Results maps reporter name to report id for a single failure.
type Results map[string]string

// Named pairs a Reporter with the name its results are keyed by.
type Named struct {
	Name     string
	Reporter Reporter
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, err error) (string, error)

func (f ReporterFunc) Report(ctx context.Context, err error) (string, error) { return f(ctx, err) }

// NopReporter accepts every error and never assigns an id.
type NopReporter struct{}

func (NopReporter) Report(context.Context, error) (string, error) { return "", nil }
