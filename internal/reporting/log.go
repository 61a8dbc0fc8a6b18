package reporting

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogReporter writes the error, with its stack when available, to a zerolog
// logger and returns a random correlation id.
type LogReporter struct {
	Logger zerolog.Logger
}

// NewLogReporter returns a LogReporter writing to logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{Logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, err error) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	r.Logger.Error().
		Stack().
		Err(err).
		Str("report_id", id).
		Str("error_type", fmt.Sprintf("%T", err)).
		Msg("exception reported")
	return id, nil
}
