// Package gateway is the single narrow surface callers see: three
// operations, with every tool schema hidden in the catalog until a routing
// decision materializes it. The caller's schema surface stays near-constant
// no matter how many tools the connected servers advertise.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/metrics"
	"github.com/toolgate/toolgate/internal/router"
	"github.com/toolgate/toolgate/internal/sandbox"
	"github.com/toolgate/toolgate/internal/toolserver"
	"github.com/toolgate/toolgate/internal/workflow"
)

// Dispatcher forwards one direct tool call to its owning server.
type Dispatcher interface {
	Invoke(ctx context.Context, id catalog.ID, args json.RawMessage) (json.RawMessage, error)
}

// DecisionCache is the optional fingerprint cache in front of the router.
type DecisionCache interface {
	Get(ctx context.Context, fingerprint string) (*router.Decision, bool)
	Put(ctx context.Context, d *router.Decision) error
}

// MethodSchema is the materialized view of one tool or workflow.
type MethodSchema struct {
	ID           catalog.ID      `json:"id"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// RouteResponse is the result of intelligent_route: which method to call
// next and its full schema. Exactly one schema is exposed per response.
type RouteResponse struct {
	Message     string       `json:"message"`
	Mode        router.Mode  `json:"mode"`
	Method      catalog.ID   `json:"method"`
	Schema      MethodSchema `json:"schema"`
	Confidence  float64      `json:"confidence"`
	Fingerprint string       `json:"fingerprint"`
	Cached      bool         `json:"cached,omitempty"`
}

// ExecuteResponse is the result of execute_tool.
type ExecuteResponse struct {
	Result    json.RawMessage `json:"result"`
	SessionID string          `json:"session_id,omitempty"`
}

type Gateway struct {
	cat   *catalog.Catalog
	rtr   *router.Router
	synth *workflow.Synthesizer
	pool  *sandbox.Pool
	dir   Dispatcher
	cache DecisionCache // nil disables caching
	met   *metrics.Metrics
}

func New(cat *catalog.Catalog, rtr *router.Router, synth *workflow.Synthesizer, pool *sandbox.Pool, dir Dispatcher, cache DecisionCache, met *metrics.Metrics) *Gateway {
	if met == nil {
		met = metrics.New()
	}
	return &Gateway{cat: cat, rtr: rtr, synth: synth, pool: pool, dir: dir, cache: cache, met: met}
}

// IntelligentRoute routes the request text and materializes exactly the
// chosen method's schema. A NoMatch decision is reported as a routing
// failure, never substituted with a guess.
func (g *Gateway) IntelligentRoute(ctx context.Context, text string) (*RouteResponse, error) {
	start := time.Now()
	defer func() {
		g.met.RouteDuration.Observe(time.Since(start).Seconds())
	}()

	fp := router.Fingerprint(text, g.cat.Version())
	if g.cache != nil {
		if d, ok := g.cache.Get(ctx, fp); ok {
			g.met.CacheHits.Inc()
			resp, err := g.resolveDecision(ctx, d)
			if err == nil {
				resp.Cached = true
				return resp, nil
			}
			// A cached decision that no longer resolves falls through to a
			// fresh route.
			log.Printf("gateway: cached decision %s unusable: %v", fp, err)
		} else {
			g.met.CacheMisses.Inc()
		}
	}

	d, err := g.rtr.Route(ctx, router.Request{Text: text})
	if err != nil {
		return nil, wrap(KindRoutingFailure, err, "routing failed: %v", err)
	}
	g.met.RoutesTotal.WithLabelValues(string(d.Mode)).Inc()

	resp, err := g.resolveDecision(ctx, d)
	if err != nil {
		return nil, err
	}
	if g.cache != nil {
		if cerr := g.cache.Put(ctx, d); cerr != nil {
			log.Printf("gateway: caching decision: %v", cerr)
		}
	}
	return resp, nil
}

// resolveDecision turns a routing decision into a materialized response.
// Orchestrated decisions pass through the synthesizer, which dedupes on the
// plan signature, so a repeat request lands on the existing workflow.
func (g *Gateway) resolveDecision(ctx context.Context, d *router.Decision) (*RouteResponse, error) {
	switch d.Mode {
	case router.NoMatch:
		msg := "no registered tool matches the request"
		if len(d.Trace) > 0 {
			msg = fmt.Sprintf("%s (%s)", msg, d.Trace[len(d.Trace)-1])
		}
		return nil, errf(KindRoutingFailure, "%s", msg)

	case router.DirectTool:
		desc, err := g.cat.Materialize(d.Selected)
		if err != nil {
			return nil, wrap(KindSchemaNegotiation, err, "materializing %s: %v", d.Selected, err)
		}
		g.met.Materializations.Inc()
		log.Printf("gateway: materialized %s (fingerprint %s)", desc.ID, d.Fingerprint)
		return &RouteResponse{
			Message:     fmt.Sprintf("call %s with the schema below", desc.ID),
			Mode:        d.Mode,
			Method:      desc.ID,
			Schema:      schemaOf(desc),
			Confidence:  d.Confidence,
			Fingerprint: d.Fingerprint,
		}, nil

	case router.Orchestrated:
		wf, err := g.synth.Synthesize(ctx, d.Plan)
		if err != nil {
			var serr *workflow.SynthesisError
			if errors.As(err, &serr) {
				return nil, wrap(KindSynthesisFailure, err, "no viable composition: %s", serr.Reason)
			}
			return nil, wrap(KindSynthesisFailure, err, "synthesis failed: %v", err)
		}
		g.met.Synthesized.Inc()
		desc, err := g.cat.Materialize(wf.ID)
		if err != nil {
			return nil, wrap(KindSchemaNegotiation, err, "materializing workflow %s: %v", wf.ID, err)
		}
		g.met.Materializations.Inc()
		log.Printf("gateway: materialized workflow %s (fingerprint %s)", wf.ID, d.Fingerprint)
		return &RouteResponse{
			Message:     fmt.Sprintf("call workflow %s with the schema below", wf.ID),
			Mode:        d.Mode,
			Method:      wf.ID,
			Schema:      schemaOf(desc),
			Confidence:  d.Confidence,
			Fingerprint: d.Fingerprint,
		}, nil

	default:
		return nil, errf(KindRoutingFailure, "unrecognized routing mode %q", d.Mode)
	}
}

// GetMethodSchema is the explicit schema fetch for a method the caller
// already knows about. It does not change materialization state.
func (g *Gateway) GetMethodSchema(_ context.Context, identifier string) (*MethodSchema, error) {
	id, err := catalog.ParseID(identifier)
	if err != nil {
		return nil, wrap(KindSchemaNegotiation, err, "bad identifier %q", identifier)
	}
	desc, ok := g.cat.Lookup(id)
	if !ok {
		return nil, errf(KindSchemaNegotiation, "unknown method %s", id)
	}
	s := schemaOf(desc)
	return &s, nil
}

// ExecuteTool dispatches to the owning tool server, or to the sandbox pool
// when the identifier names an orchestrated workflow.
func (g *Gateway) ExecuteTool(ctx context.Context, identifier string, args json.RawMessage) (*ExecuteResponse, error) {
	id, err := catalog.ParseID(identifier)
	if err != nil {
		return nil, wrap(KindSchemaNegotiation, err, "bad identifier %q", identifier)
	}
	if id.Server == catalog.OrchestratedServer {
		return g.executeWorkflow(ctx, id, args)
	}

	result, err := g.dir.Invoke(ctx, id, args)
	if err != nil {
		if errors.Is(err, toolserver.ErrServerUnknown) {
			return nil, wrap(KindSchemaNegotiation, err, "no connected server for %s", id)
		}
		ge := wrap(KindExecutionFault, err, "%v", err)
		ge.Tool = id.String()
		return nil, ge
	}
	return &ExecuteResponse{Result: result}, nil
}

func (g *Gateway) executeWorkflow(ctx context.Context, id catalog.ID, args json.RawMessage) (*ExecuteResponse, error) {
	g.met.SandboxInFlight.Inc()
	defer g.met.SandboxInFlight.Dec()

	sess, err := g.pool.Execute(ctx, id, args)
	if err != nil {
		switch {
		case errors.Is(err, sandbox.ErrPoolSaturated):
			return nil, wrap(KindResourceExhausted, err, "execution pool saturated, retry later")
		case errors.Is(err, sandbox.ErrDraining):
			return nil, wrap(KindResourceExhausted, err, "gateway is shutting down")
		case errors.Is(err, sandbox.ErrUnknownWorkflow):
			return nil, wrap(KindSchemaNegotiation, err, "unknown workflow %s", id)
		}
		return nil, wrap(KindExecutionFault, err, "%v", err)
	}
	g.met.SessionsTotal.WithLabelValues(string(sess.Status)).Inc()

	switch sess.Status {
	case sandbox.StatusCompleted:
		return &ExecuteResponse{Result: sess.Result, SessionID: sess.ID}, nil
	case sandbox.StatusTimedOut:
		return nil, errf(KindExecutionTimeout, "session %s exceeded its execution budget", sess.ID)
	case sandbox.StatusCancelled:
		return nil, errf(KindExecutionCancelled, "session %s was cancelled", sess.ID)
	default:
		ge := errf(KindExecutionFault, "session %s failed", sess.ID)
		if sess.Fault != nil {
			ge.Message = fmt.Sprintf("session %s failed: %s", sess.ID, sess.Fault.Reason)
			ge.Tool = sess.Fault.Tool
		}
		return nil, ge
	}
}

// CancelSession forwards an external cancellation request to the pool.
func (g *Gateway) CancelSession(sessionID string) bool {
	return g.pool.Cancel(sessionID)
}

func schemaOf(desc *catalog.Descriptor) MethodSchema {
	return MethodSchema{
		ID:           desc.ID,
		Description:  strings.TrimSpace(desc.Description),
		InputSchema:  desc.InputSchema,
		OutputSchema: desc.OutputSchema,
	}
}
