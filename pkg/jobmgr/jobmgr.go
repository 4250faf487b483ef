// Package jobmgr tracks named background goroutines with cancellation.
//
// The engine uses it for its long-running loops (scheduler tick, topic
// recompute, mood evolution) so telemetry can report liveness and shutdown
// can cancel everything by name.
package jobmgr

import (
	"context"
	"fmt"
	"sync"
)

// StatusReporter receives lifecycle events: "running:<name>",
// "error:<name>:<msg>", "done:<name>". May be nil.
type StatusReporter func(string)

type job struct {
	cancel context.CancelFunc
}

// Manager starts, stops and tracks jobs. Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*job
	reporter StatusReporter
}

// NewManager creates a Manager with an optional reporter.
func NewManager(reporter StatusReporter) *Manager {
	return &Manager{
		jobs:     make(map[string]*job),
		reporter: reporter,
	}
}

// StartAsync runs fn in a goroutine under a child context of parent.
// Returns an error if a job with the same name is already running.
// The job is removed automatically when fn returns.
func (m *Manager) StartAsync(parent context.Context, name string, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if _, exists := m.jobs[name]; exists {
		m.mu.Unlock()
		return fmt.Errorf("job %q already running", name)
	}
	ctx, cancel := context.WithCancel(parent)
	m.jobs[name] = &job{cancel: cancel}
	m.mu.Unlock()

	m.report("running:" + name)

	go func() {
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.jobs, name)
			m.mu.Unlock()
			m.report("done:" + name)
		}()
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			m.report(fmt.Sprintf("error:%s:%v", name, err))
		}
	}()
	return nil
}

// Stop cancels the named job. No-op if it is not running.
func (m *Manager) Stop(name string) {
	m.mu.Lock()
	j := m.jobs[name]
	m.mu.Unlock()
	if j != nil {
		j.cancel()
	}
}

// StopAll cancels every running job.
func (m *Manager) StopAll() {
	m.mu.Lock()
	jobs := make([]*job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()
	for _, j := range jobs {
		j.cancel()
	}
}

// Running reports whether the named job is currently running.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[name]
	return ok
}

// Count returns the number of running jobs.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *Manager) report(msg string) {
	if m.reporter != nil {
		m.reporter(msg)
	}
}
