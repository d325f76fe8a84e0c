package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anupcshan/daytrace/internal/geocode"
	"github.com/anupcshan/daytrace/internal/logging"
)

// Run states reported in Progress.Status.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Progress is a single update about a run.
type Progress struct {
	RunID   string    `json:"run_id"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// backlogSize bounds the updates replayed to a new subscriber.
const backlogSize = 64

type run struct {
	cancel  context.CancelFunc
	done    chan struct{}
	status  string
	report  *Report
	err     error
	backlog []Progress
}

// Manager runs requests in the background and fans their progress out to
// subscribers.
type Manager struct {
	runner  *Runner
	runs    map[string]*run
	streams map[string][]chan Progress
	mu      sync.RWMutex
}

// NewManager creates a manager for runner.
func NewManager(runner *Runner) *Manager {
	return &Manager{
		runner:  runner,
		runs:    make(map[string]*run),
		streams: make(map[string][]chan Progress),
	}
}

// Subscribe returns a channel that receives progress updates for a run,
// starting with the most recent updates sent before the call. The channel
// is closed when the run finishes; for a finished run it is returned
// already closed. The returned function unsubscribes early.
func (m *Manager) Subscribe(runID string) (<-chan Progress, func(), error) {
	m.mu.Lock()
	r, exists := m.runs[runID]
	if !exists {
		m.mu.Unlock()
		return nil, nil, ErrRunNotFound
	}

	if r.status != StatusRunning {
		m.mu.Unlock()
		ch := make(chan Progress)
		close(ch)
		return ch, func() {}, nil
	}
	ch := make(chan Progress, len(r.backlog)+16)
	for _, p := range r.backlog {
		ch <- p
	}
	m.streams[runID] = append(m.streams[runID], ch)
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		subs := m.streams[runID]
		for i, sub := range subs {
			if sub == ch {
				m.streams[runID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
		// already closed by closeStreams
	}

	return ch, unsubscribe, nil
}

// broadcast records p in the run's backlog and sends it to all
// subscribers without blocking.
func (m *Manager) broadcast(p Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.runs[p.RunID]; ok {
		if len(r.backlog) == backlogSize {
			r.backlog = r.backlog[1:]
		}
		r.backlog = append(r.backlog, p)
	}
	for _, ch := range m.streams[p.RunID] {
		select {
		case ch <- p:
		default:
			// slow consumer
		}
	}
}

func (m *Manager) closeStreams(runID string) {
	m.mu.Lock()
	subs := m.streams[runID]
	delete(m.streams, runID)
	if r, ok := m.runs[runID]; ok {
		r.backlog = nil
	}
	m.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// Start launches req in the background and returns its run ID. The run
// is cancelled when ctx is done or Cancel is called.
func (m *Manager) Start(ctx context.Context, req Request) (string, error) {
	if req.Input == nil {
		return "", ErrNoInput
	}
	runID := uuid.New().String()

	ctx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{}), status: StatusRunning}

	m.mu.Lock()
	m.runs[runID] = r
	m.mu.Unlock()

	extra := req.Log
	req.Log = logging.Tee(extra, func(msg string) {
		m.broadcast(Progress{RunID: runID, Status: StatusRunning, Message: msg, Time: time.Now()})
	})

	go m.execute(ctx, runID, r, req)

	return runID, nil
}

func (m *Manager) execute(ctx context.Context, runID string, r *run, req Request) {
	defer m.closeStreams(runID)
	defer close(r.done)
	defer r.cancel()

	report, err := m.runner.run(ctx, runID, req)

	status := StatusCompleted
	switch {
	case err != nil && geocode.IsFatal(err):
		status = StatusStopped
	case err != nil:
		status = StatusFailed
	case report != nil && report.Cancelled:
		status = StatusCancelled
	}

	m.mu.Lock()
	r.status = status
	r.report = report
	r.err = err
	m.mu.Unlock()

	final := Progress{RunID: runID, Status: status, Time: time.Now()}
	if err != nil {
		final.Error = err.Error()
	}
	m.broadcast(final)

	logging.Info().Str("run_id", runID).Str("status", status).Msg("Run ended")
}

// Cancel stops a running run. Work finished so far is kept in its report.
func (m *Manager) Cancel(runID string) error {
	m.mu.RLock()
	r, exists := m.runs[runID]
	m.mu.RUnlock()

	if !exists {
		return ErrRunNotFound
	}
	r.cancel()
	return nil
}

// Wait blocks until the run finishes or ctx is done and returns its
// report and error.
func (m *Manager) Wait(ctx context.Context, runID string) (*Report, error) {
	m.mu.RLock()
	r, exists := m.runs[runID]
	m.mu.RUnlock()

	if !exists {
		return nil, ErrRunNotFound
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return r.report, r.err
}

// Status returns the current state of a run.
func (m *Manager) Status(runID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, exists := m.runs[runID]
	if !exists {
		return "", ErrRunNotFound
	}
	return r.status, nil
}

type pipelineError string

func (e pipelineError) Error() string { return string(e) }

const (
	ErrRunNotFound = pipelineError("run not found")
	ErrNoInput     = pipelineError("no input")
)
