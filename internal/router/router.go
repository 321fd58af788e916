// Package router is the routing decision engine: a deterministic similarity
// tier over the embedding index, with optional escalation to a bounded
// LLM reasoning loop for low-confidence or multi-step requests.
package router

import (
	"context"
	"fmt"
	"log"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/workflow"
)

type Mode string

const (
	DirectTool   Mode = "direct_tool"
	Orchestrated Mode = "orchestrated"
	NoMatch      Mode = "no_match"
)

type Request struct {
	Text    string
	Session string
}

type Candidate struct {
	ID    catalog.ID
	Score float64
}

type Decision struct {
	Mode        Mode
	Candidates  []Candidate
	Selected    catalog.ID
	Plan        *workflow.Plan
	Confidence  float64
	Trace       []string
	Fingerprint string
}

type Config struct {
	TopK                int
	ConfidenceThreshold float64
	RelevanceFloor      float64
}

func DefaultConfig() Config {
	return Config{TopK: 8, ConfidenceThreshold: 0.75, RelevanceFloor: 0.15}
}

// degradedConfidence is reported when the reasoning tier was consulted but
// could not decide and routing fell back to the best similarity candidate.
const degradedConfidence = 0.25

type Router struct {
	cat      *catalog.Catalog
	reasoner Reasoner // nil disables the reasoning tier
	cfg      Config
}

func New(cat *catalog.Catalog, reasoner Reasoner, cfg Config) *Router {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	return &Router{cat: cat, reasoner: reasoner, cfg: cfg}
}

// Route produces the decision for one request. The similarity tier always
// runs and is deterministic for a fixed catalog state; the reasoning tier
// runs only when the top score is below the confidence threshold or the text
// looks multi-step. NoMatch is a decision, not an error.
func (r *Router) Route(ctx context.Context, req Request) (*Decision, error) {
	fp := Fingerprint(req.Text, r.cat.Version())

	hits, err := r.cat.Search(ctx, req.Text, r.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}
	candidates := make([]Candidate, len(hits))
	for i, h := range hits {
		candidates[i] = Candidate{ID: h.ID, Score: h.Score}
	}

	d := &Decision{Candidates: candidates, Fingerprint: fp}
	if len(candidates) == 0 {
		d.Mode = NoMatch
		d.Trace = append(d.Trace, "empty catalog or no comparable candidates")
		return d, nil
	}

	top := candidates[0]
	multiStep := looksMultiStep(req.Text)

	// Fast path: a confident single-verb match skips the reasoning tier
	// entirely.
	if top.Score >= r.cfg.ConfidenceThreshold && !multiStep {
		d.Mode = DirectTool
		d.Selected = top.ID
		d.Confidence = top.Score
		return d, nil
	}

	if r.reasoner == nil {
		if top.Score >= r.cfg.RelevanceFloor {
			d.Mode = DirectTool
			d.Selected = top.ID
			d.Confidence = top.Score
			return d, nil
		}
		d.Mode = NoMatch
		d.Trace = append(d.Trace, fmt.Sprintf("top score %.3f below relevance floor %.3f", top.Score, r.cfg.RelevanceFloor))
		return d, nil
	}

	outcome, err := r.reasoner.Decide(ctx, req.Text, r.candidateSchemas(candidates))
	if err != nil {
		log.Printf("router: reasoning tier failed, falling back to similarity: %v", err)
		return r.fallback(d, top, fmt.Sprintf("reasoning failed: %v", err)), nil
	}
	d.Trace = append(d.Trace, outcome.Trace...)

	switch outcome.Action {
	case ActionSelect:
		d.Mode = DirectTool
		d.Selected = outcome.Selected
		d.Confidence = outcome.Confidence
		return d, nil
	case ActionCompose:
		// A single-step plan has no orchestration need; proxy the
		// underlying tool directly.
		if id, ok := outcome.Plan.DirectProxy(); ok {
			d.Mode = DirectTool
			d.Selected = id
			d.Confidence = outcome.Confidence
			d.Trace = append(d.Trace, "single-step composition collapsed to direct call")
			return d, nil
		}
		d.Mode = Orchestrated
		d.Plan = outcome.Plan
		d.Confidence = outcome.Confidence
		return d, nil
	case ActionNone:
		d.Mode = NoMatch
		d.Trace = append(d.Trace, "reasoning tier found no fit")
		return d, nil
	default:
		return r.fallback(d, top, "reasoning tier inconclusive"), nil
	}
}

// fallback routes to the best similarity candidate with degraded confidence,
// or NoMatch when even that candidate is below the relevance floor. The
// caller is never handed an arbitrary guess.
func (r *Router) fallback(d *Decision, top Candidate, reason string) *Decision {
	d.Trace = append(d.Trace, reason)
	if top.Score >= r.cfg.RelevanceFloor {
		d.Mode = DirectTool
		d.Selected = top.ID
		d.Confidence = degradedConfidence
		d.Trace = append(d.Trace, "fell back to best similarity candidate")
		return d
	}
	d.Mode = NoMatch
	d.Trace = append(d.Trace, fmt.Sprintf("top score %.3f below relevance floor %.3f", top.Score, r.cfg.RelevanceFloor))
	return d
}

func (r *Router) candidateSchemas(candidates []Candidate) []CandidateSchema {
	out := make([]CandidateSchema, 0, len(candidates))
	for _, c := range candidates {
		desc, ok := r.cat.Lookup(c.ID)
		if !ok {
			continue
		}
		out = append(out, CandidateSchema{
			ID:          c.ID,
			Score:       c.Score,
			Description: desc.Description,
			InputSchema: desc.InputSchema,
		})
	}
	return out
}
