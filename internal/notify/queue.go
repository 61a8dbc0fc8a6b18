package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskWelcome is the asynq task type for welcome notifications.
const TaskWelcome = "email:welcome"

// NewWelcomeTask serializes msg into a retrying asynq task.
func NewWelcomeTask(msg Welcome) (*asynq.Task, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TaskWelcome,
		payload,
		asynq.MaxRetry(3),
		asynq.Queue("default"),
		asynq.Timeout(30*time.Second),
	), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// QueueSender hands welcome notifications to the background worker.
type QueueSender struct {
	client enqueuer
}

// NewQueueSender connects an asynq client to redisAddr.
func NewQueueSender(redisAddr string) *QueueSender {
	return &QueueSender{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

func (q *QueueSender) SendWelcome(ctx context.Context, msg Welcome) error {
	task, err := NewWelcomeTask(msg)
	if err != nil {
		return err
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue welcome task: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (q *QueueSender) Close() error { return q.client.Close() }

// Worker consumes welcome tasks and delivers them with Sender.
type Worker struct {
	server *asynq.Server
	sender Sender
	logger zerolog.Logger
}

// NewWorker builds a worker bound to redisAddr.
func NewWorker(redisAddr string, concurrency int, sender Sender, logger zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{"default": 1},
		},
	)
	return &Worker{server: srv, sender: sender, logger: logger}
}

// Mux routes task types to handlers.
func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskWelcome, w.HandleWelcomeTask)
	return mux
}

// Start begins processing in the background.
func (w *Worker) Start() error {
	w.logger.Info().Msg("starting notification worker")
	return w.server.Start(w.Mux())
}

// Stop waits for in-flight tasks and stops the worker.
func (w *Worker) Stop() {
	w.logger.Info().Msg("stopping notification worker")
	w.server.Shutdown()
}

// HandleWelcomeTask decodes a welcome task and sends it. Malformed payloads
// are skipped without retry.
func (w *Worker) HandleWelcomeTask(ctx context.Context, t *asynq.Task) error {
	var msg Welcome
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("decode welcome payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := w.sender.SendWelcome(ctx, msg); err != nil {
		w.logger.Error().Err(err).Str("user_id", msg.UserID).Msg("failed to send welcome notification")
		return err
	}
	w.logger.Info().Str("user_id", msg.UserID).Msg("welcome notification sent")
	return nil
}
