package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/provider"
)

// scriptedCompleter replays canned completion responses in order.
type scriptedCompleter struct {
	replies []string
	calls   int
}

func (s *scriptedCompleter) Name() string { return "scripted" }

func (s *scriptedCompleter) Complete(_ context.Context, _ *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	s.calls++
	if s.calls > len(s.replies) {
		return &provider.CompletionResponse{Content: s.replies[len(s.replies)-1]}, nil
	}
	return &provider.CompletionResponse{Content: s.replies[s.calls-1]}, nil
}

func testCandidates() []CandidateSchema {
	return []CandidateSchema{
		{ID: catalog.ID{Server: "git", Tool: "status"}, Score: 0.5, Description: "git status", InputSchema: json.RawMessage(`{}`)},
		{ID: catalog.ID{Server: "reports", Tool: "write"}, Score: 0.3, Description: "write report"},
		{ID: catalog.ID{Server: "email", Tool: "send"}, Score: 0.1, Description: "send email"},
	}
}

func TestLLMReasonerSelect(t *testing.T) {
	sc := &scriptedCompleter{replies: []string{`{"action":"select","tool":"git.status","confidence":0.85}`}}
	r := NewLLMReasoner(sc, 3)

	out, err := r.Decide(context.Background(), "show git status", testCandidates())
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out.Action != ActionSelect || out.Selected.String() != "git.status" {
		t.Errorf("outcome = %+v", out)
	}
	if out.Confidence != 0.85 {
		t.Errorf("confidence = %g", out.Confidence)
	}
}

func TestLLMReasonerRevealsMoreCandidates(t *testing.T) {
	sc := &scriptedCompleter{replies: []string{
		`{"action":"more"}`,
		`{"action":"select","tool":"reports.write","confidence":0.7}`,
	}}
	r := NewLLMReasoner(sc, 3)

	out, err := r.Decide(context.Background(), "write the report", testCandidates())
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out.Action != ActionSelect || out.Selected.String() != "reports.write" {
		t.Errorf("outcome = %+v", out)
	}
	if sc.calls != 2 {
		t.Errorf("completer calls = %d, want 2", sc.calls)
	}
}

func TestLLMReasonerCompose(t *testing.T) {
	sc := &scriptedCompleter{replies: []string{"```json\n" +
		`{"action":"compose","name":"summarize and report","steps":[` +
		`{"step":1,"tool":"git.status","params":{"repo_path":"$input.repo_path"}},` +
		`{"step":2,"tool":"reports.write","params":{"content":"$step.1"},"depends_on":[1]}]}` +
		"\n```"}}
	r := NewLLMReasoner(sc, 3)

	out, err := r.Decide(context.Background(), "summarize changes and save a report", testCandidates())
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out.Action != ActionCompose {
		t.Fatalf("action = %v", out.Action)
	}
	if len(out.Plan.Steps) != 2 || out.Plan.Steps[1].Tool.String() != "reports.write" {
		t.Errorf("plan = %+v", out.Plan)
	}
}

func TestLLMReasonerBoundedLoop(t *testing.T) {
	sc := &scriptedCompleter{replies: []string{`{"action":"more"}`}}
	r := NewLLMReasoner(sc, 3)

	out, err := r.Decide(context.Background(), "anything", testCandidates())
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out.Action != ActionInconclusive {
		t.Errorf("action = %v, want inconclusive after round bound", out.Action)
	}
	if sc.calls != 3 {
		t.Errorf("completer calls = %d, want 3 (the bound)", sc.calls)
	}
}

func TestLLMReasonerGarbageRepliesStayBounded(t *testing.T) {
	sc := &scriptedCompleter{replies: []string{"I think the best tool would be..."}}
	r := NewLLMReasoner(sc, 2)

	out, err := r.Decide(context.Background(), "anything", testCandidates())
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out.Action != ActionInconclusive {
		t.Errorf("action = %v", out.Action)
	}
	if len(out.Trace) == 0 {
		t.Error("no trace of the unparsable rounds")
	}
}

func TestLLMReasonerRejectsUnknownSelection(t *testing.T) {
	sc := &scriptedCompleter{replies: []string{
		`{"action":"select","tool":"shadow.tool","confidence":0.9}`,
		`{"action":"none"}`,
	}}
	r := NewLLMReasoner(sc, 3)

	out, err := r.Decide(context.Background(), "anything", testCandidates())
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out.Action != ActionNone {
		t.Errorf("action = %v; hallucinated selection must not be accepted", out.Action)
	}
}

func TestLLMReasonerNoCandidates(t *testing.T) {
	sc := &scriptedCompleter{replies: []string{`{"action":"select","tool":"git.status"}`}}
	r := NewLLMReasoner(sc, 3)
	out, err := r.Decide(context.Background(), "anything", nil)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if out.Action != ActionNone {
		t.Errorf("action = %v", out.Action)
	}
	if sc.calls != 0 {
		t.Error("completer consulted with no candidates")
	}
}
