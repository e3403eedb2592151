package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrJobRunning means the key already has a live background job.
var ErrJobRunning = errors.New("job already running")

// JobManager runs at most one cancellable background job per key.
// Batch parse runs register here so a delete can stop them mid-flight
// and shutdown can drain them.
type JobManager struct {
	mu   sync.Mutex
	jobs map[string]context.CancelFunc
	wg   sync.WaitGroup
	log  *zap.Logger
}

// NewJobManager creates a job manager.
func NewJobManager(log *zap.Logger) *JobManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &JobManager{
		jobs: make(map[string]context.CancelFunc),
		log:  log.Named("jobs"),
	}
}

// Start launches fn in the background under a context cancelled by
// Cancel(key) or Shutdown. One job per key at a time.
func (m *JobManager) Start(key string, fn func(ctx context.Context)) error {
	m.mu.Lock()
	if _, running := m.jobs[key]; running {
		m.mu.Unlock()
		return ErrJobRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.jobs[key] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.jobs, key)
			m.mu.Unlock()
			cancel()
			m.wg.Done()
		}()
		m.log.Debug("job started", zap.String("key", key))
		fn(ctx)
		m.log.Debug("job finished", zap.String("key", key))
	}()
	return nil
}

// Cancel stops the job holding the key, if any.
func (m *JobManager) Cancel(key string) bool {
	m.mu.Lock()
	cancel, running := m.jobs[key]
	m.mu.Unlock()
	if !running {
		return false
	}
	cancel()
	m.log.Info("job cancelled", zap.String("key", key))
	return true
}

// Running reports whether the key has a live job.
func (m *JobManager) Running(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.jobs[key]
	return running
}

// Shutdown cancels every job and waits up to timeout for them to exit.
func (m *JobManager) Shutdown(timeout time.Duration) {
	m.mu.Lock()
	for key, cancel := range m.jobs {
		m.log.Info("cancelling job on shutdown", zap.String("key", key))
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		m.log.Warn("jobs did not drain before timeout")
	}
}
