package router

import (
	"context"
	"fmt"
	"testing"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/embedding"
	"github.com/toolgate/toolgate/internal/workflow"
)

func composePlan() *workflow.Plan {
	return &workflow.Plan{
		Name: "summarize_changes",
		Steps: []workflow.Step{
			{Step: 1, Tool: catalog.ID{Server: "git", Tool: "status"}, Params: map[string]string{"repo_path": "$input.repo_path"}},
			{Step: 2, Tool: catalog.ID{Server: "reports", Tool: "write"}, Params: map[string]string{"content": "$step.1"}, DependsOn: []int{1}},
		},
	}
}

func singlePlan() *workflow.Plan {
	return &workflow.Plan{
		Name:  "just_status",
		Steps: []workflow.Step{{Step: 1, Tool: catalog.ID{Server: "git", Tool: "status"}}},
	}
}

func newCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(embedding.NewHashEmbedder(128), nil)
	if err != nil {
		t.Fatalf("catalog.New failed: %v", err)
	}
	ctx := context.Background()
	tools := []struct{ server, tool, desc string }{
		{"git", "status", "show git working tree status and pending changes"},
		{"reports", "write", "write a report document file to disk"},
		{"email", "send", "send an email message to a recipient"},
	}
	for _, tl := range tools {
		err := cat.Register(ctx, catalog.RegisterInput{
			ID:          catalog.ID{Server: tl.server, Tool: tl.tool},
			Description: tl.desc,
			InputSchema: []byte(`{"type":"object"}`),
		})
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	return cat
}

func TestRouteDeterministic(t *testing.T) {
	cat := newCatalog(t)
	r := New(cat, nil, DefaultConfig())

	first, err := r.Route(context.Background(), Request{Text: "show git status changes"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := r.Route(context.Background(), Request{Text: "show git status changes"})
		if err != nil {
			t.Fatalf("Route failed: %v", err)
		}
		if again.Mode != first.Mode || again.Selected != first.Selected {
			t.Fatalf("run %d: decision differs: %v/%v vs %v/%v", i, again.Mode, again.Selected, first.Mode, first.Selected)
		}
		if len(again.Candidates) != len(first.Candidates) {
			t.Fatal("candidate count differs between identical routes")
		}
		for j := range again.Candidates {
			if again.Candidates[j] != first.Candidates[j] {
				t.Fatalf("run %d: candidate %d differs", i, j)
			}
		}
	}
}

func TestRouteNoMatchOnEmptyCatalog(t *testing.T) {
	cat, _ := catalog.New(embedding.NewHashEmbedder(128), nil)
	r := New(cat, nil, DefaultConfig())
	d, err := r.Route(context.Background(), Request{Text: "anything"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.Mode != NoMatch {
		t.Errorf("mode = %v, want NoMatch", d.Mode)
	}
}

func TestRouteNoMatchBelowFloor(t *testing.T) {
	cat := newCatalog(t)
	r := New(cat, nil, Config{TopK: 5, ConfidenceThreshold: 0.9, RelevanceFloor: 0.99})
	d, err := r.Route(context.Background(), Request{Text: "do something nonsensical xyz123"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.Mode != NoMatch {
		t.Errorf("mode = %v, want NoMatch", d.Mode)
	}
	if len(d.Trace) == 0 {
		t.Error("NoMatch decision carries no trace")
	}
}

func TestRouteSimilarityOnlyPicksTop(t *testing.T) {
	cat := newCatalog(t)
	r := New(cat, nil, Config{TopK: 5, ConfidenceThreshold: 0.99, RelevanceFloor: 0.05})
	d, err := r.Route(context.Background(), Request{Text: "git working tree status"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.Mode != DirectTool {
		t.Fatalf("mode = %v, want DirectTool", d.Mode)
	}
	if d.Selected.String() != "git.status" {
		t.Errorf("selected = %v", d.Selected)
	}
	if d.Fingerprint == "" {
		t.Error("decision missing fingerprint")
	}
}

// scriptedReasoner replays canned outcomes and records invocations.
type scriptedReasoner struct {
	outcome *Outcome
	err     error
	calls   int
}

func (s *scriptedReasoner) Decide(_ context.Context, _ string, _ []CandidateSchema) (*Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

func TestRouteFastPathSkipsReasoner(t *testing.T) {
	cat := newCatalog(t)
	sr := &scriptedReasoner{outcome: &Outcome{Action: ActionNone}}
	r := New(cat, sr, Config{TopK: 5, ConfidenceThreshold: 0.2, RelevanceFloor: 0.05})

	d, err := r.Route(context.Background(), Request{Text: "git working tree status"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.Mode != DirectTool {
		t.Fatalf("mode = %v", d.Mode)
	}
	if sr.calls != 0 {
		t.Errorf("reasoner consulted %d times on a confident match", sr.calls)
	}
}

func TestRouteEscalatesToReasonerCompose(t *testing.T) {
	cat := newCatalog(t)
	plan := &Outcome{
		Action:     ActionCompose,
		Confidence: 0.8,
		Plan:       composePlan(),
		Trace:      []string{"round 1: action=compose"},
	}
	sr := &scriptedReasoner{outcome: plan}
	r := New(cat, sr, Config{TopK: 5, ConfidenceThreshold: 0.99, RelevanceFloor: 0.05})

	d, err := r.Route(context.Background(), Request{Text: "summarize today's git changes and save REPORT.md"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if sr.calls != 1 {
		t.Fatalf("reasoner calls = %d", sr.calls)
	}
	if d.Mode != Orchestrated {
		t.Fatalf("mode = %v, want Orchestrated", d.Mode)
	}
	if d.Plan == nil || len(d.Plan.Steps) != 2 {
		t.Errorf("plan = %+v", d.Plan)
	}
	if len(d.Trace) == 0 {
		t.Error("orchestrated decision missing reasoning trace")
	}
}

func TestRouteReasonerSelect(t *testing.T) {
	cat := newCatalog(t)
	sr := &scriptedReasoner{outcome: &Outcome{
		Action:     ActionSelect,
		Selected:   catalog.ID{Server: "email", Tool: "send"},
		Confidence: 0.9,
	}}
	r := New(cat, sr, Config{TopK: 5, ConfidenceThreshold: 0.99, RelevanceFloor: 0.05})

	d, err := r.Route(context.Background(), Request{Text: "notify the team about the release"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.Mode != DirectTool || d.Selected.String() != "email.send" {
		t.Errorf("decision = %v/%v", d.Mode, d.Selected)
	}
	if d.Confidence != 0.9 {
		t.Errorf("confidence = %g", d.Confidence)
	}
}

func TestRouteReasonerNone(t *testing.T) {
	cat := newCatalog(t)
	sr := &scriptedReasoner{outcome: &Outcome{Action: ActionNone}}
	r := New(cat, sr, Config{TopK: 5, ConfidenceThreshold: 0.99, RelevanceFloor: 0.05})

	d, err := r.Route(context.Background(), Request{Text: "show git status"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.Mode != NoMatch {
		t.Errorf("mode = %v, want NoMatch when reasoner declares no fit", d.Mode)
	}
}

func TestRouteReasonerFailureFallsBack(t *testing.T) {
	cat := newCatalog(t)
	sr := &scriptedReasoner{err: fmt.Errorf("endpoint down")}
	r := New(cat, sr, Config{TopK: 5, ConfidenceThreshold: 0.99, RelevanceFloor: 0.05})

	d, err := r.Route(context.Background(), Request{Text: "git working tree status"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.Mode != DirectTool {
		t.Fatalf("mode = %v, want DirectTool fallback", d.Mode)
	}
	if d.Selected.String() != "git.status" {
		t.Errorf("selected = %v", d.Selected)
	}
	if d.Confidence != degradedConfidence {
		t.Errorf("confidence = %g, want degraded %g", d.Confidence, degradedConfidence)
	}
}

func TestRouteInconclusiveFallsBack(t *testing.T) {
	cat := newCatalog(t)
	sr := &scriptedReasoner{outcome: &Outcome{Action: ActionInconclusive}}
	r := New(cat, sr, Config{TopK: 5, ConfidenceThreshold: 0.99, RelevanceFloor: 0.05})

	d, err := r.Route(context.Background(), Request{Text: "git working tree status"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.Mode != DirectTool || d.Confidence != degradedConfidence {
		t.Errorf("decision = %v conf=%g", d.Mode, d.Confidence)
	}
}

func TestRouteSingleStepComposeCollapses(t *testing.T) {
	cat := newCatalog(t)
	sr := &scriptedReasoner{outcome: &Outcome{
		Action:     ActionCompose,
		Confidence: 0.8,
		Plan:       singlePlan(),
	}}
	r := New(cat, sr, Config{TopK: 5, ConfidenceThreshold: 0.99, RelevanceFloor: 0.05})

	d, err := r.Route(context.Background(), Request{Text: "fetch git status and nothing else"})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if d.Mode != DirectTool || d.Selected.String() != "git.status" {
		t.Errorf("decision = %v/%v, want collapsed direct call", d.Mode, d.Selected)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("List Files  in /tmp", 3)
	b := Fingerprint("list   files in /tmp", 3)
	if a != b {
		t.Error("normalization-insensitive inputs produced different fingerprints")
	}
	if Fingerprint("list files in /tmp", 3) == Fingerprint("list files in /tmp", 4) {
		t.Error("catalog version not part of fingerprint")
	}
	if Fingerprint("a", 1) == Fingerprint("b", 1) {
		t.Error("different texts collide")
	}
}

func TestLooksMultiStep(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"summarize today's git changes and save REPORT.md", true},
		{"fetch the data, then send it to the team", true},
		{"list files in /tmp", false},
		{"what is the weather", false},
		{"read the config", false},
	}
	for _, tt := range tests {
		if got := looksMultiStep(tt.text); got != tt.want {
			t.Errorf("looksMultiStep(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
