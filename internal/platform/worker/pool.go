// Package worker provides a bounded worker pool with backpressure. The
// service runs each provisioning intent as one job, so the pool size caps
// how many intents are in flight at once.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrBackpressure is returned when the queue is full and the drop policy
// rejects the job instead of blocking.
var ErrBackpressure = errors.New("worker: queue full")

// DropPolicy decides what happens when a job is submitted to a full queue.
type DropPolicy int

const (
	// DropPolicyBlock blocks the submitter until queue space frees up.
	DropPolicyBlock DropPolicy = iota
	// DropPolicyNewest rejects the incoming job with ErrBackpressure.
	DropPolicyNewest
)

// Job is a unit of work.
type Job struct {
	// ID identifies the job in results and logs.
	ID      string
	Execute func(ctx context.Context) (interface{}, error)
}

// Result is the outcome of one job.
type Result struct {
	JobID string
	Value interface{}
	Err   error
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	JobsSubmitted int64
	JobsCompleted int64
	JobsDropped   int64
}

// PoolConfig configures a pool.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	DropPolicy DropPolicy
}

// Pool runs jobs on a fixed set of worker goroutines.
type Pool struct {
	workers    int
	dropPolicy DropPolicy
	jobQueue   chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	dropped   atomic.Int64
}

// NewPool creates a pool with the blocking drop policy.
func NewPool(ctx context.Context, workers, queueSize int) *Pool {
	return NewPoolWithConfig(ctx, PoolConfig{Workers: workers, QueueSize: queueSize})
}

// NewPoolWithConfig creates a pool and starts its workers.
func NewPoolWithConfig(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)
	p := &Pool{
		workers:    cfg.Workers,
		dropPolicy: cfg.DropPolicy,
		jobQueue:   make(chan Job, cfg.QueueSize),
		results:    make(chan Result, cfg.QueueSize),
		ctx:        poolCtx,
		cancel:     cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			value, err := job.Execute(p.ctx)
			p.completed.Add(1)
			// Results are advisory; a full channel drops the result
			// rather than stalling the worker.
			select {
			case p.results <- Result{JobID: job.ID, Value: value, Err: err}:
			default:
			}
		}
	}
}

// Submit enqueues a job according to the drop policy. With DropPolicyBlock
// it waits for queue space; with DropPolicyNewest a full queue returns
// ErrBackpressure.
func (p *Pool) Submit(job Job) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}

	if p.dropPolicy == DropPolicyNewest {
		return p.trySubmit(job)
	}

	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		p.submitted.Add(1)
		return nil
	}
}

// TrySubmit enqueues without blocking, returning ErrBackpressure when the
// queue is full.
func (p *Pool) TrySubmit(job Job) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	return p.trySubmit(job)
}

func (p *Pool) trySubmit(job Job) error {
	select {
	case p.jobQueue <- job:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrBackpressure
	}
}

// SubmitAndWait submits all jobs and collects their results. Results come
// back in completion order, not submission order.
func (p *Pool) SubmitAndWait(jobs []Job) []Result {
	for _, job := range jobs {
		if err := p.Submit(job); err != nil {
			break
		}
	}

	results := make([]Result, 0, len(jobs))
	for i := 0; i < len(jobs); i++ {
		select {
		case <-p.ctx.Done():
			return results
		case result := <-p.results:
			results = append(results, result)
		}
	}
	return results
}

// Results exposes the advisory result stream.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting jobs and waits for workers to exit.
func (p *Pool) Close() {
	p.cancel()
	close(p.jobQueue)
	p.wg.Wait()
	close(p.results)
}

// Workers returns the worker count.
func (p *Pool) Workers() int {
	return p.workers
}

// DropPolicy returns the configured drop policy.
func (p *Pool) DropPolicy() DropPolicy {
	return p.dropPolicy
}

// QueueLen returns the number of queued jobs not yet picked up.
func (p *Pool) QueueLen() int {
	return len(p.jobQueue)
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		JobsSubmitted: p.submitted.Load(),
		JobsCompleted: p.completed.Load(),
		JobsDropped:   p.dropped.Load(),
	}
}
