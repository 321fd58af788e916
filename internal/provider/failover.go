package provider

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

type CooldownConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier int
}

func DefaultCooldownConfig() CooldownConfig {
	return CooldownConfig{
		Initial:    time.Minute,
		Max:        time.Hour,
		Multiplier: 5,
	}
}

// AllExhaustedError reports that every configured endpoint was either in
// cooldown or failed.
type AllExhaustedError struct {
	Attempted []string
}

func (e *AllExhaustedError) Error() string {
	if len(e.Attempted) == 0 {
		return "provider: no endpoints configured"
	}
	return fmt.Sprintf("provider: all endpoints exhausted (attempted: %s)", strings.Join(e.Attempted, ", "))
}

type endpointState struct {
	errorCount    int
	cooldownUntil time.Time
}

// Failover tries an ordered list of endpoints. A failing endpoint goes into
// exponential-backoff cooldown and is skipped until the cooldown lapses; a
// success resets its state.
type Failover struct {
	endpoints []Endpoint
	config    CooldownConfig
	now       func() time.Time

	mu    sync.Mutex
	state map[string]*endpointState
}

func NewFailover(endpoints []Endpoint, cfg CooldownConfig) *Failover {
	if cfg.Initial <= 0 {
		cfg = DefaultCooldownConfig()
	}
	return &Failover{
		endpoints: endpoints,
		config:    cfg,
		now:       time.Now,
		state:     make(map[string]*endpointState),
	}
}

func (f *Failover) Name() string { return "failover" }

func (f *Failover) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	attempted := make([]string, 0, len(f.endpoints))
	var lastErr error

	for _, ep := range f.endpoints {
		if f.inCooldown(ep.Name()) {
			continue
		}
		attempted = append(attempted, ep.Name())

		resp, err := ep.Complete(ctx, req)
		if err == nil {
			f.reset(ep.Name())
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			// Caller's deadline, not the endpoint's fault.
			return nil, err
		}
		f.putInCooldown(ep.Name())
		log.Printf("provider: endpoint %s failed, in cooldown: %v", ep.Name(), err)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w (last: %v)", &AllExhaustedError{Attempted: attempted}, lastErr)
	}
	return nil, &AllExhaustedError{Attempted: attempted}
}

func (f *Failover) inCooldown(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.state[name]
	return ok && f.now().Before(st.cooldownUntil)
}

func (f *Failover) putInCooldown(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.state[name]
	if !ok {
		st = &endpointState{}
		f.state[name] = st
	}
	st.errorCount++
	st.cooldownUntil = f.now().Add(f.cooldownDuration(st.errorCount))
}

func (f *Failover) reset(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.state, name)
}

func (f *Failover) cooldownDuration(errorCount int) time.Duration {
	d := f.config.Initial
	for i := 1; i < errorCount; i++ {
		d *= time.Duration(f.config.Multiplier)
		if d > f.config.Max {
			return f.config.Max
		}
	}
	return d
}
