package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Pool runs batches of tasks with bounded parallelism. Tasks are not retried
// in process; callers that need retries record failures durably and submit
// them again in a later batch.
type Pool struct {
	limit       int64
	taskTimeout time.Duration
	logger      *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithTaskTimeout bounds the wall clock of every task. Zero means unbounded.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *Pool) {
		p.taskTimeout = d
	}
}

// NewPool creates a pool running at most limit tasks at once.
func NewPool(logger *zap.Logger, limit int, opts ...Option) *Pool {
	if limit < 1 {
		limit = 1
	}
	p := &Pool{
		limit:  int64(limit),
		logger: logger.Named("workqueue"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes tasks and blocks until every started task has returned.
// Once ctx is done no further tasks start; those left are reported as
// skipped. Results are returned in task order.
func (p *Pool) Run(ctx context.Context, tasks []Task) Summary {
	results := make([]Result, len(tasks))
	sem := semaphore.NewWeighted(p.limit)
	var wg sync.WaitGroup

	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(tasks); j++ {
				results[j] = Result{ID: tasks[j].ID(), Name: tasks[j].Name(), Status: TaskStatusSkipped, Err: err}
			}
			break
		}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = p.execute(ctx, task)
		}(i, task)
	}
	wg.Wait()

	return Summary{Results: results}
}

func (p *Pool) execute(parent context.Context, task Task) (res Result) {
	res = Result{ID: task.ID(), Name: task.Name()}
	ctx := parent
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, p.taskTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Status = TaskStatusFailed
			res.Err = fmt.Errorf("task panicked: %v", r)
		}
		p.log(res)
	}()

	err := task.Execute(ctx)
	switch {
	case err == nil:
		res.Status = TaskStatusCompleted
	case errors.Is(err, context.Canceled) && parent.Err() != nil:
		res.Status = TaskStatusCancelled
		res.Err = err
	default:
		res.Status = TaskStatusFailed
		res.Err = err
	}
	return res
}

func (p *Pool) log(res Result) {
	fields := []zap.Field{
		zap.String("task_id", res.ID),
		zap.String("task_name", res.Name),
		zap.Duration("duration", res.Duration),
	}
	switch res.Status {
	case TaskStatusFailed:
		p.logger.Error("task failed", append(fields, zap.Error(res.Err))...)
	case TaskStatusCancelled:
		p.logger.Info("task cancelled", fields...)
	default:
		p.logger.Debug("task completed", fields...)
	}
}

// Summary is the outcome of one batch.
type Summary struct {
	Results []Result
}

// Err joins the errors of failed tasks. Cancelled and skipped tasks are not
// failures.
func (s Summary) Err() error {
	var errs []error
	for _, r := range s.Results {
		if r.Status == TaskStatusFailed {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Progress counts results by status.
func (s Summary) Progress() Progress {
	p := Progress{Total: len(s.Results)}
	for _, r := range s.Results {
		switch r.Status {
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusFailed:
			p.Failed++
		case TaskStatusCancelled:
			p.Cancelled++
		case TaskStatusSkipped:
			p.Skipped++
		}
	}
	return p
}

// Progress holds batch statistics.
type Progress struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
}

// Percentage returns the share of tasks that ran to completion (0-100).
func (p Progress) Percentage() int {
	if p.Total == 0 {
		return 100
	}
	return (p.Completed * 100) / p.Total
}
