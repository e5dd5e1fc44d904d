package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker stopped")
)

// Job is a unit of background work. Run receives the pool's context, which
// is cancelled on shutdown.
type Job struct {
	ID   uuid.UUID
	Type string
	Run  func(ctx context.Context) error
}

type Worker struct {
	log         *logger.Logger
	concurrency int
	queue       chan Job

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewWorker(baseLog *logger.Logger, concurrency, queueSize int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if queueSize < 1 {
		queueSize = concurrency * 16
	}
	return &Worker{
		log:         baseLog.With("component", "JobWorker"),
		concurrency: concurrency,
		queue:       make(chan Job, queueSize),
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	w.log.Info("Starting job worker pool", "concurrency", w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
	go func() {
		<-ctx.Done()
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
	}()
}

// Submit enqueues job without blocking.
func (w *Worker) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no run func", job.Type)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	select {
	case w.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Wait blocks until every worker loop has returned.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case job := <-w.queue:
			w.runJob(ctx, workerID, job)
		}
	}
}

func (w *Worker) runJob(ctx context.Context, workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic",
				"worker_id", workerID,
				"job_id", job.ID,
				"job_type", job.Type,
				"panic", r,
			)
		}
	}()
	if err := job.Run(ctx); err != nil {
		w.log.Warn("Job failed",
			"worker_id", workerID,
			"job_id", job.ID,
			"job_type", job.Type,
			"error", err,
		)
	}
}
