package reporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Report outcomes recorded in exception_reports_total.
const (
	OutcomeOK      = "ok"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomePanic   = "panic"
)

// reportsTotal counts reporter calls by reporter name and outcome.
var reportsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "exception_reports_total",
		Help: "Exception reporter calls by reporter and outcome.",
	},
	[]string{"reporter", "outcome"},
)

func init() {
	prometheus.MustRegister(reportsTotal)
}

// Dispatcher fans a failure out to every reporter concurrently.
//
// Each reporter gets at most Timeout. Report waits for all of them, but never
// longer than Ceiling; reporters that fail, time out, or return an empty id
// contribute no entry. Dispatching is detached from the caller's cancellation
// so a client disconnect does not drop the report.
type Dispatcher struct {
	reporters []Named
	timeout   time.Duration
	ceiling   time.Duration
	logger    zerolog.Logger
}

// NewDispatcher builds a Dispatcher. A non-positive ceiling defaults to the
// timeout.
func NewDispatcher(reporters []Named, timeout, ceiling time.Duration, logger zerolog.Logger) *Dispatcher {
	if ceiling <= 0 || ceiling < timeout {
		ceiling = timeout
	}
	return &Dispatcher{reporters: reporters, timeout: timeout, ceiling: ceiling, logger: logger}
}

// Names returns the configured reporter names in order.
func (d *Dispatcher) Names() []string {
	out := make([]string, 0, len(d.reporters))
	for _, r := range d.reporters {
		out = append(out, r.Name)
	}
	return out
}

// Report sends err to every reporter and returns the ids they assigned.
func (d *Dispatcher) Report(ctx context.Context, err error) Results {
	if err == nil || len(d.reporters) == 0 {
		return Results{}
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.ceiling)
	defer cancel()

	var (
		mu      sync.Mutex
		results = Results{}
		g       errgroup.Group
	)
	for _, nr := range d.reporters {
		nr := nr
		g.Go(func() error {
			id, outcome := d.call(ctx, nr, err)
			reportsTotal.WithLabelValues(nr.Name, outcome).Inc()
			if outcome == OutcomeOK {
				mu.Lock()
				results[nr.Name] = id
				mu.Unlock()
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn().Dur("ceiling", d.ceiling).Msg("exception reporters exceeded ceiling")
	}

	mu.Lock()
	defer mu.Unlock()
	out := make(Results, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out
}

// call invokes one reporter under its own timeout and classifies the result.
func (d *Dispatcher) call(parent context.Context, nr Named, reported error) (id, outcome string) {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			d.logger.Error().Str("reporter", nr.Name).Interface("panic", p).Msg("exception reporter panicked")
			id, outcome = "", OutcomePanic
		}
	}()

	id, err := nr.Reporter.Report(ctx, reported)
	switch {
	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded):
		d.logger.Warn().Str("reporter", nr.Name).Dur("timeout", d.timeout).Msg("exception reporter timed out")
		return "", OutcomeTimeout
	case err != nil:
		d.logger.Warn().Err(err).Str("reporter", nr.Name).Msg("exception reporter failed")
		return "", OutcomeError
	case id == "":
		return "", OutcomeEmpty
	}
	return id, OutcomeOK
}

// String describes the dispatcher for startup logs.
func (d *Dispatcher) String() string {
	return fmt.Sprintf("reporters=%v timeout=%s ceiling=%s", d.Names(), d.timeout, d.ceiling)
}
