// Package workerpool implements the Worker Pool (C5): a fixed number of
// cooperative goroutines that poll the Job Queue for claimable work, run it
// through a JobExecutor (the Pipeline Orchestrator), and report health.
// Adapted from the teacher's pkg/queue.WorkerPool/Worker
// (pkg/queue/pool.go, pkg/queue/worker.go), generalized from tarsy's single
// alert-session model to the job state machine in internal/jobqueue.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/axiscore/axiscore/internal/jobqueue"
)

// JobExecutor runs one claimed job to completion (or failure), driving the
// job's remaining state transitions itself. Bound at construction to the
// Pipeline Orchestrator.
type JobExecutor interface {
	Execute(ctx context.Context, job *jobqueue.Job)
}

// Config controls pool sizing and timing.
type Config struct {
	WorkerCount        int
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
	JobTimeout         time.Duration
	MaxConcurrentJobs  int
}

// DefaultConfig returns sane defaults for a single-node deployment.
func DefaultConfig() Config {
	return Config{
		WorkerCount:        4,
		PollInterval:       500 * time.Millisecond,
		PollIntervalJitter: 150 * time.Millisecond,
		JobTimeout:         10 * time.Minute,
		MaxConcurrentJobs:  8,
	}
}

// ErrAtCapacity signals the pool is already running MaxConcurrentJobs.
var ErrAtCapacity = errors.New("worker pool at capacity")

// Pool manages a fixed set of Worker goroutines.
type Pool struct {
	nodeID   string
	queue    *jobqueue.Queue
	config   Config
	executor JobExecutor

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu             sync.RWMutex
	activeJobs     map[string]context.CancelFunc
	started        bool
	activeJobCount int
}

// NewPool constructs a Pool. nodeID identifies this process for worker
// naming and watchdog liveness checks (see jobqueue.LiveWorkers).
func NewPool(nodeID string, queue *jobqueue.Queue, cfg Config, executor JobExecutor) *Pool {
	return &Pool{
		nodeID:     nodeID,
		queue:      queue,
		config:     cfg,
		executor:   executor,
		workers:    make([]*Worker, 0, cfg.WorkerCount),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Start spawns WorkerCount worker goroutines. Safe to call once; subsequent
// calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("workerpool: already started, ignoring duplicate Start", "nodeId", p.nodeID)
		return
	}
	p.started = true
	p.mu.Unlock()

	slog.Info("workerpool: starting", "nodeId", p.nodeID, "workerCount", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.nodeID, i)
		w := newWorker(workerID, p.queue, p.config, p.executor, p, p.stopCh)
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
}

// Stop signals every worker to stop after its current job and waits for
// them to drain.
func (p *Pool) Stop() {
	slog.Info("workerpool: stopping", "nodeId", p.nodeID, "activeJobs", len(p.ActiveJobIDs()))
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("workerpool: stopped", "nodeId", p.nodeID)
}

// IsLive implements jobqueue.LiveWorkers: a worker id belongs to this node
// and is live as long as the pool hasn't been stopped.
func (p *Pool) IsLive(workerID string) bool {
	select {
	case <-p.stopCh:
		return false
	default:
	}
	for _, w := range p.workers {
		if w.id == workerID {
			return true
		}
	}
	return false
}

// RegisterJob stores a cancel function so CancelJob can interrupt it.
func (p *Pool) RegisterJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
	p.activeJobCount++
}

// UnregisterJob removes a job's cancel function once processing ends.
func (p *Pool) UnregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
	if p.activeJobCount > 0 {
		p.activeJobCount--
	}
}

// CancelJob triggers context cancellation for a job running on this node.
// Returns true if the job was found here.
func (p *Pool) CancelJob(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// ActiveJobIDs returns the jobs currently executing on this node.
func (p *Pool) ActiveJobIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeJobs))
	for id := range p.activeJobs {
		ids = append(ids, id)
	}
	return ids
}

// atCapacity reports whether the pool has reached MaxConcurrentJobs.
func (p *Pool) atCapacity() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.MaxConcurrentJobs > 0 && p.activeJobCount >= p.config.MaxConcurrentJobs
}

// WorkerHealth is one worker's reported status.
type WorkerHealth struct {
	ID                string
	Status            string
	CurrentJobID      string
	JobsProcessed     int
	LastActivity      time.Time
}

// PoolHealth summarizes the pool for the gateway's /health endpoint.
type PoolHealth struct {
	NodeID        string
	TotalWorkers  int
	ActiveWorkers int
	ActiveJobs    int
	MaxConcurrent int
	WorkerStats   []WorkerHealth
}

// Health snapshots the pool and its workers.
func (p *Pool) Health() PoolHealth {
	p.mu.RLock()
	activeJobs := p.activeJobCount
	p.mu.RUnlock()

	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		h := w.health()
		stats[i] = h
		if h.Status == string(workerStatusWorking) {
			active++
		}
	}

	return PoolHealth{
		NodeID:        p.nodeID,
		TotalWorkers:  len(p.workers),
		ActiveWorkers: active,
		ActiveJobs:    activeJobs,
		MaxConcurrent: p.config.MaxConcurrentJobs,
		WorkerStats:   stats,
	}
}
