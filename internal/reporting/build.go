package reporting

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-users-backend/internal/config"
)

// Build constructs the reporters named in cfg.Reporters. Any construction
// failure is returned immediately so misconfiguration surfaces at startup.
// The returned closers flush reporters that buffer events.
func Build(cfg config.ReportingConfig, logger zerolog.Logger) ([]Named, []io.Closer, error) {
	var (
		out     []Named
		closers []io.Closer
		seen    = map[string]bool{}
	)
	for _, name := range cfg.Reporters {
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case "nop":
			out = append(out, Named{Name: name, Reporter: NopReporter{}})
		case "log":
			out = append(out, Named{Name: name, Reporter: NewLogReporter(logger)})
		case "sentry":
			r, err := NewSentryReporter(SentryOptions{
				DSN:         cfg.SentryDSN,
				Environment: cfg.SentryEnvironment,
				Release:     cfg.SentryRelease,
			})
			if err != nil {
				return nil, nil, err
			}
			out = append(out, Named{Name: name, Reporter: r})
			closers = append(closers, r)
		default:
			return nil, nil, fmt.Errorf("%w: unknown reporter %q", ErrReporterUnavailable, name)
		}
	}
	return out, closers, nil
}
