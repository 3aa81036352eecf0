package media

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Job is a unit of background media work. The context is cancelled when the
// pipeline shuts down.
type Job func(ctx context.Context)

type queuedJob struct {
	id  string
	run Job
}

// PipelineConfig sizes the worker pool.
type PipelineConfig struct {
	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

const (
	defaultPipelineWorkers = 2
	defaultPipelineQueue   = 32
)

// Pipeline runs media jobs on a bounded worker pool. Jobs report progress
// through the session and temp-video stores, never by calling back into
// request handlers.
type Pipeline struct {
	workers int
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan queuedJob
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultPipelineWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultPipelineQueue
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		workers:  workers,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan queuedJob, queueSize),
		inFlight: make(map[string]struct{}),
	}
}

func (p *Pipeline) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Shutdown cancels running jobs and waits for the workers to drain.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue submits a job keyed by id; a duplicate id already queued or running
// is dropped. Reports whether the job was accepted.
func (p *Pipeline) Enqueue(id string, run Job) bool {
	if p == nil || run == nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	default:
	}
	select {
	case p.queue <- queuedJob{id: id, run: run}:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			if !p.beginWork(job.id) {
				continue
			}
			p.runJob(job)
			p.finishWork(job.id)
		}
	}
}

func (p *Pipeline) runJob(job queuedJob) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("media job panicked",
				"job_id", job.id,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	job.run(p.ctx)
}

func (p *Pipeline) beginWork(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[id]; exists {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pipeline) finishWork(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}
