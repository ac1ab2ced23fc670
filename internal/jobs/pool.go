package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Pool runs jobs on a fixed number of in-process workers.
type Pool struct {
	exec Executor
	size int
	log  zerolog.Logger

	queue chan string

	mu      sync.Mutex
	cancel  context.CancelFunc
	running map[string]context.CancelFunc
	// queued maps ids waiting in the channel to whether they were withdrawn.
	queued map[string]bool
	wg     sync.WaitGroup
}

func NewPool(exec Executor, size, backlog int, log zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if backlog < size {
		backlog = size
	}
	return &Pool{
		exec:    exec,
		size:    size,
		log:     log,
		queue:   make(chan string, backlog),
		running: make(map[string]context.CancelFunc),
		queued:  make(map[string]bool),
	}
}

func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return fmt.Errorf("pool already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.log.Info().Int("workers", p.size).Msg("job pool started")
	return nil
}

// Stop cancels running jobs and waits for the workers to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) Submit(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.queued[jobID] = false
	p.mu.Unlock()

	select {
	case p.queue <- jobID:
		return nil
	default:
		p.mu.Lock()
		delete(p.queued, jobID)
		p.mu.Unlock()
		return ErrQueueFull
	}
}

// Cancel stops a running job or withdraws a queued one. Ids the pool no
// longer holds, finished jobs included, are left untouched.
func (p *Pool) Cancel(_ context.Context, jobID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.running[jobID]; ok {
		cancel()
		return false, nil
	}
	if _, ok := p.queued[jobID]; ok {
		p.queued[jobID] = true
		return true, nil
	}
	return false, nil
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			p.process(ctx, id)
		}
	}
}

func (p *Pool) process(ctx context.Context, jobID string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	withdrawn := p.queued[jobID]
	delete(p.queued, jobID)
	if withdrawn {
		p.mu.Unlock()
		p.log.Info().Str("job_id", jobID).Msg("skipping job cancelled while queued")
		return
	}
	p.running[jobID] = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.running, jobID)
		p.mu.Unlock()
	}()

	if err := p.exec.Execute(jobCtx, jobID); err != nil {
		p.log.Error().Err(err).Str("job_id", jobID).Msg("job execution failed")
	}
}
