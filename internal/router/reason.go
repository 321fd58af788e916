package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/provider"
	"github.com/toolgate/toolgate/internal/workflow"
)

// CandidateSchema is one similarity-tier candidate plus the schema the
// reasoning model needs to judge it.
type CandidateSchema struct {
	ID          catalog.ID
	Score       float64
	Description string
	InputSchema json.RawMessage
}

type Action string

const (
	// ActionSelect picks one candidate for a direct call.
	ActionSelect Action = "select"
	// ActionCompose declares a multi-tool composition with a plan.
	ActionCompose Action = "compose"
	// ActionNone declares that nothing fits.
	ActionNone Action = "none"
	// ActionInconclusive means the loop exhausted its bound without a
	// usable decision; the caller falls back to the similarity tier.
	ActionInconclusive Action = "inconclusive"
)

type Outcome struct {
	Action     Action
	Selected   catalog.ID
	Plan       *workflow.Plan
	Confidence float64
	Trace      []string
}

// Reasoner is the escalated routing tier.
type Reasoner interface {
	Decide(ctx context.Context, requestText string, candidates []CandidateSchema) (*Outcome, error)
}

const reasonSystemPrompt = `You route natural-language requests to tools. You see candidate tools one batch at a time.
Respond with exactly one JSON object, no prose:
  {"action":"select","tool":"server.tool","confidence":0.0-1.0}  - one tool satisfies the request
  {"action":"more"}                                              - show me the next candidate
  {"action":"compose","name":"short_name","steps":[{"step":1,"tool":"server.tool","params":{"param":"$input.field or $step.N or literal"},"depends_on":[]}]}  - the request needs a chain of tools
  {"action":"none"}                                              - no candidate or composition fits
Params reference workflow input as "$input.field", earlier step results as "$step.N" or "$step.N.field".`

// LLMReasoner runs the bounded observe/decide loop against a completion
// endpoint. Candidates are revealed incrementally; the round bound
// guarantees termination no matter what the model answers.
type LLMReasoner struct {
	completer provider.Endpoint
	maxRounds int
}

func NewLLMReasoner(completer provider.Endpoint, maxRounds int) *LLMReasoner {
	if maxRounds <= 0 {
		maxRounds = 3
	}
	return &LLMReasoner{completer: completer, maxRounds: maxRounds}
}

type reasonReply struct {
	Action     string           `json:"action"`
	Tool       string           `json:"tool,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Name       string           `json:"name,omitempty"`
	Steps      []reasonPlanStep `json:"steps,omitempty"`
}

type reasonPlanStep struct {
	Step      int               `json:"step"`
	Tool      string            `json:"tool"`
	Params    map[string]string `json:"params,omitempty"`
	DependsOn []int             `json:"depends_on,omitempty"`
}

func (r *LLMReasoner) Decide(ctx context.Context, requestText string, candidates []CandidateSchema) (*Outcome, error) {
	if len(candidates) == 0 {
		return &Outcome{Action: ActionNone, Trace: []string{"no candidates to reason over"}}, nil
	}

	var trace []string
	revealed := 1
	for round := 0; round < r.maxRounds; round++ {
		prompt := buildReasonPrompt(requestText, candidates[:revealed], len(candidates))
		resp, err := r.completer.Complete(ctx, &provider.CompletionRequest{
			Messages: []provider.Message{
				{Role: provider.RoleSystem, Content: reasonSystemPrompt},
				{Role: provider.RoleUser, Content: prompt},
			},
			MaxTokens: 1024,
		})
		if err != nil {
			return nil, fmt.Errorf("router: reasoning round %d: %w", round+1, err)
		}

		reply, err := parseReasonReply(resp.Content)
		if err != nil {
			trace = append(trace, fmt.Sprintf("round %d: unparsable reply: %v", round+1, err))
			continue
		}
		trace = append(trace, fmt.Sprintf("round %d: action=%s", round+1, reply.Action))

		switch reply.Action {
		case "select":
			id, err := catalog.ParseID(reply.Tool)
			if err != nil {
				trace = append(trace, fmt.Sprintf("round %d: bad tool id %q", round+1, reply.Tool))
				continue
			}
			if !candidateKnown(candidates, id) {
				trace = append(trace, fmt.Sprintf("round %d: selected %s is not a candidate", round+1, id))
				continue
			}
			conf := reply.Confidence
			if conf <= 0 || conf > 1 {
				conf = 0.6
			}
			return &Outcome{Action: ActionSelect, Selected: id, Confidence: conf, Trace: trace}, nil
		case "more":
			if revealed < len(candidates) {
				revealed++
			}
		case "compose":
			plan, err := replyToPlan(reply)
			if err != nil {
				trace = append(trace, fmt.Sprintf("round %d: bad plan: %v", round+1, err))
				continue
			}
			return &Outcome{Action: ActionCompose, Plan: plan, Confidence: 0.8, Trace: trace}, nil
		case "none":
			return &Outcome{Action: ActionNone, Trace: trace}, nil
		default:
			trace = append(trace, fmt.Sprintf("round %d: unknown action %q", round+1, reply.Action))
		}
	}
	trace = append(trace, "round bound reached without a decision")
	return &Outcome{Action: ActionInconclusive, Trace: trace}, nil
}

func buildReasonPrompt(requestText string, revealed []CandidateSchema, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nCandidates (%d of %d):\n", requestText, len(revealed), total)
	for _, c := range revealed {
		fmt.Fprintf(&b, "- %s (similarity %.3f): %s\n", c.ID, c.Score, c.Description)
		if len(c.InputSchema) > 0 {
			fmt.Fprintf(&b, "  input schema: %s\n", c.InputSchema)
		}
	}
	return b.String()
}

func parseReasonReply(content string) (*reasonReply, error) {
	raw, err := provider.ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	var reply reasonReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func replyToPlan(reply *reasonReply) (*workflow.Plan, error) {
	if len(reply.Steps) == 0 {
		return nil, fmt.Errorf("compose reply has no steps")
	}
	plan := &workflow.Plan{Name: reply.Name}
	for _, s := range reply.Steps {
		id, err := catalog.ParseID(s.Tool)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, workflow.Step{
			Step:      s.Step,
			Tool:      id,
			Params:    s.Params,
			DependsOn: s.DependsOn,
		})
	}
	return plan, nil
}

func candidateKnown(candidates []CandidateSchema, id catalog.ID) bool {
	for _, c := range candidates {
		if c.ID == id {
			return true
		}
	}
	return false
}
