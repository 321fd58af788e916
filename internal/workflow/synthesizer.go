package workflow

import (
	"context"
	"fmt"
	"log"

	"github.com/toolgate/toolgate/internal/catalog"
)

// SynthesisError marks a failure to produce a coherent program; the gateway
// reports it as a routing failure variant rather than attempting a degraded
// direct call.
type SynthesisError struct {
	Reason string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesis failed: %s: %v", e.Reason, e.Err)
	}
	return "synthesis failed: " + e.Reason
}

func (e *SynthesisError) Unwrap() error { return e.Err }

type Synthesizer struct {
	cat *catalog.Catalog
}

func NewSynthesizer(cat *catalog.Catalog) *Synthesizer {
	return &Synthesizer{cat: cat}
}

// Synthesize turns a plan into a registered workflow. The signature is
// checked against the catalog first; only a miss generates program source.
// Every dependency must resolve to a live catalog descriptor — composing
// over retired or unknown tools is a synthesis failure, not a runtime
// surprise.
func (s *Synthesizer) Synthesize(ctx context.Context, plan *Plan) (*catalog.Workflow, error) {
	if err := plan.Normalize(); err != nil {
		return nil, &SynthesisError{Reason: "unusable plan", Err: err}
	}

	deps := plan.Deps()
	if len(deps) < 2 {
		return nil, &SynthesisError{Reason: "composition needs at least two distinct tools"}
	}
	for _, dep := range deps {
		if _, ok := s.cat.Lookup(dep); !ok {
			return nil, &SynthesisError{Reason: fmt.Sprintf("dependency %s not in catalog", dep)}
		}
	}

	sig := Signature(plan)
	if existing, ok := s.cat.WorkflowBySignature(sig); ok {
		log.Printf("workflow: signature hit, reusing %s", existing.ID)
		return existing, nil
	}

	source, err := Generate(plan)
	if err != nil {
		return nil, &SynthesisError{Reason: "code generation", Err: err}
	}
	if err := Validate(source, deps); err != nil {
		return nil, &SynthesisError{Reason: "validation", Err: err}
	}
	inputSchema, outputSchema, err := InferSchemas(plan)
	if err != nil {
		return nil, &SynthesisError{Reason: "schema inference", Err: err}
	}

	wf, err := s.cat.RegisterWorkflow(ctx, &catalog.Workflow{
		Name:         plan.Name,
		Source:       source,
		Deps:         deps,
		Signature:    sig,
		InputSchema:  inputSchema,
		OutputSchema: outputSchema,
	})
	if err != nil {
		return nil, &SynthesisError{Reason: "registration", Err: err}
	}
	return wf, nil
}
