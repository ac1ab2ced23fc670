package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	TaskHighlight = "highlight:generate"
	queueName     = "highlights"
)

type taskPayload struct {
	JobID string `json:"job_id"`
}

// Queue enqueues jobs in Redis for `hlreel worker` processes. The asynq
// task id is the job id, so a job can be enqueued at most once.
type Queue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	timeout   time.Duration
	log       zerolog.Logger
}

func NewQueue(redisAddr string, jobTimeout time.Duration, log zerolog.Logger) *Queue {
	opt := asynq.RedisClientOpt{Addr: redisAddr}
	return &Queue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		timeout:   jobTimeout,
		log:       log,
	}
}

func newTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(taskPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TaskHighlight, data), nil
}

func (q *Queue) Submit(ctx context.Context, jobID string) error {
	task, err := newTask(jobID)
	if err != nil {
		return err
	}
	opts := []asynq.Option{
		asynq.TaskID(jobID),
		asynq.Queue(queueName),
		asynq.MaxRetry(0),
	}
	if q.timeout > 0 {
		// the job enforces its own timeout; this only reclaims dead workers
		opts = append(opts, asynq.Timeout(q.timeout+time.Minute))
	}
	info, err := q.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	q.log.Debug().Str("job_id", jobID).Str("queue", info.Queue).Msg("job enqueued")
	return nil
}

func (q *Queue) Cancel(_ context.Context, jobID string) (bool, error) {
	err := q.inspector.DeleteTask(queueName, jobID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return false, fmt.Errorf("cancel %s: %w", jobID, err)
	}
	// active tasks cannot be deleted, only signalled
	if err := q.inspector.CancelProcessing(jobID); err != nil {
		return false, fmt.Errorf("cancel %s: %w", jobID, err)
	}
	return false, nil
}

func (q *Queue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}

// Worker consumes highlight tasks from Redis.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    zerolog.Logger
}

func NewWorker(redisAddr string, concurrency int, exec Executor, log zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency:     concurrency,
			Queues:          map[string]int{queueName: 1},
			Logger:          asynqLogger{log},
			ShutdownTimeout: 30 * time.Second,
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskHighlight, handler(exec, log))
	return &Worker{server: server, mux: mux, log: log}
}

// Run processes tasks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	w.log.Info().Msg("job worker started")
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}

func handler(exec Executor, log zerolog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var p taskPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil || p.JobID == "" {
			return fmt.Errorf("bad %s payload: %v: %w", TaskHighlight, err, asynq.SkipRetry)
		}
		log.Debug().Str("job_id", p.JobID).Msg("task received")
		return exec.Execute(ctx, p.JobID)
	}
}

type asynqLogger struct {
	l zerolog.Logger
}

func (a asynqLogger) Debug(args ...interface{}) { a.l.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.l.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.l.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.l.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.l.Fatal().Msg(fmt.Sprint(args...)) }
