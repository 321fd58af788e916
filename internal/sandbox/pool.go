package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/catalog"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// Fault is the structured error detail of a non-Completed terminal session.
type Fault struct {
	Tool   string `json:"tool,omitempty"`
	Reason string `json:"reason"`
}

// Session is the immutable record of one workflow execution, released to the
// caller once terminal.
type Session struct {
	ID         string
	WorkflowID catalog.ID
	Input      json.RawMessage
	Status     Status
	Result     json.RawMessage
	Fault      *Fault
	StartedAt  time.Time
	EndedAt    time.Time
}

var (
	// ErrPoolSaturated is backpressure: every instance is busy and the
	// acquisition wait bound lapsed.
	ErrPoolSaturated = errors.New("sandbox: pool saturated")
	// ErrDraining rejects new sessions during graceful shutdown.
	ErrDraining = errors.New("sandbox: pool draining")
	// ErrUnknownWorkflow means the workflow id resolves to nothing.
	ErrUnknownWorkflow = errors.New("sandbox: unknown workflow")
)

type Config struct {
	Size        int
	AcquireWait time.Duration
	ExecTimeout time.Duration
	MaxSteps    int
}

func DefaultConfig() Config {
	return Config{Size: 4, AcquireWait: 5 * time.Second, ExecTimeout: 30 * time.Second, MaxSteps: 10000}
}

// Pool is the bounded set of runtime instances. Acquisition blocks up to
// AcquireWait when all instances are busy; it never spawns beyond Size. An
// instance that completes cleanly is recycled; one that faulted, timed out,
// or was cancelled is discarded and a fresh instance takes its slot, so no
// state leaks between sessions.
type Pool struct {
	cat     *catalog.Catalog
	invoker Invoker
	cfg     Config
	slots   chan *instance

	mu       sync.Mutex
	active   map[string]context.CancelFunc
	draining bool
	wg       sync.WaitGroup
}

func NewPool(cat *catalog.Catalog, invoker Invoker, cfg Config) (*Pool, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultConfig().Size
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultConfig().ExecTimeout
	}
	p := &Pool{
		cat:     cat,
		invoker: invoker,
		cfg:     cfg,
		slots:   make(chan *instance, cfg.Size),
		active:  make(map[string]context.CancelFunc),
	}
	for i := 0; i < cfg.Size; i++ {
		in, err := newInstance()
		if err != nil {
			p.Close()
			return nil, err
		}
		p.slots <- in
	}
	return p, nil
}

// Execute runs one workflow session to a terminal state. The returned
// Session is a finished record; Execute never returns a running session.
func (p *Pool) Execute(ctx context.Context, workflowID catalog.ID, input json.RawMessage) (*Session, error) {
	wf, ok := p.cat.Workflow(workflowID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowID)
	}

	sess := &Session{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Input:      input,
		Status:     StatusQueued,
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, ErrDraining
	}
	p.active[sess.ID] = cancel
	p.wg.Add(1)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, sess.ID)
		p.mu.Unlock()
		p.wg.Done()
	}()

	in, err := p.acquire(sessCtx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			sess.Status = StatusCancelled
			sess.EndedAt = time.Now()
			return sess, nil
		}
		return nil, err
	}

	sess.Status = StatusRunning
	sess.StartedAt = time.Now()

	runCtx, cancelRun := context.WithTimeout(sessCtx, p.cfg.ExecTimeout)
	defer cancelRun()

	result, runErr := in.run(runCtx, wf, input, p.invoker, p.cfg.MaxSteps)
	sess.EndedAt = time.Now()

	switch {
	case runErr == nil:
		sess.Status = StatusCompleted
		sess.Result = result
		p.release(in)
		p.cat.RecordExecution(workflowID)
	case errors.Is(runErr, errStepCeiling), errors.Is(runErr, context.DeadlineExceeded):
		sess.Status = StatusTimedOut
		sess.Fault = &Fault{Reason: runErr.Error()}
		p.discard(in)
	case errors.Is(runErr, context.Canceled):
		sess.Status = StatusCancelled
		sess.Fault = &Fault{Reason: "cancelled"}
		p.discard(in)
	default:
		sess.Status = StatusFailed
		var bound *BoundCallError
		if errors.As(runErr, &bound) {
			sess.Fault = &Fault{Tool: bound.Tool.String(), Reason: bound.Reason}
		} else {
			sess.Fault = &Fault{Reason: runErr.Error()}
		}
		p.discard(in)
	}
	return sess, nil
}

// Cancel requests cancellation of a queued or running session. A queued
// session goes straight to Cancelled; a running one stops at its next
// bound-call checkpoint.
func (p *Pool) Cancel(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.active[sessionID]
	if ok {
		cancel()
	}
	return ok
}

// Drain stops accepting new sessions and waits for running ones to finish
// within their existing timeouts.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
	p.wg.Wait()
}

// Close tears down all idle instances. Call after Drain.
func (p *Pool) Close() {
	for {
		select {
		case in := <-p.slots:
			in.close()
		default:
			return
		}
	}
}

// InFlight reports the number of sessions currently queued or running.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Pool) acquire(ctx context.Context) (*instance, error) {
	wait := p.cfg.AcquireWait
	if wait <= 0 {
		wait = DefaultConfig().AcquireWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case in := <-p.slots:
		return in, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrPoolSaturated
	}
}

func (p *Pool) release(in *instance) {
	p.slots <- in
}

// discard tears the instance down and replaces it with a fresh one, so the
// pool size stays fixed and no timed-out or faulted state is ever reused.
func (p *Pool) discard(in *instance) {
	in.close()
	fresh, err := newInstance()
	if err != nil {
		log.Printf("sandbox: replacing discarded instance: %v", err)
		return
	}
	p.slots <- fresh
}
