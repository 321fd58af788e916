// Package workflow synthesizes orchestration programs: given a multi-step
// plan over catalog tools, it emits a small Lua program with one entry point,
// validates it against a strict static contract, and registers it in the
// catalog as a callable tool under the orchestrated namespace. Signatures
// over (ordered deps, control shape) deduplicate equivalent plans.
package workflow

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/toolgate/toolgate/internal/catalog"
)

const maxNameLen = 48

// Plan is a declarative composition of tool calls produced by the reasoning
// tier (or by tests directly).
type Plan struct {
	Name  string
	Steps []Step
}

// Step is one tool call in a plan. Params map each tool parameter to a value
// source: "$input.field" takes it from the workflow input, "$step.N" or
// "$step.N.field" takes it from an earlier step's result, anything else is a
// literal string.
type Step struct {
	Step      int
	Tool      catalog.ID
	Params    map[string]string
	DependsOn []int
}

// DirectProxy reports whether the plan is a single step with no
// orchestration need, in which case the underlying tool should be routed to
// directly instead of synthesizing a one-call program.
func (p *Plan) DirectProxy() (catalog.ID, bool) {
	if len(p.Steps) != 1 {
		return catalog.ID{}, false
	}
	return p.Steps[0].Tool, true
}

// Deps returns the plan's dependency tools in step order, deduplicated.
func (p *Plan) Deps() []catalog.ID {
	seen := make(map[catalog.ID]bool)
	var deps []catalog.ID
	for _, s := range p.Steps {
		if !seen[s.Tool] {
			seen[s.Tool] = true
			deps = append(deps, s.Tool)
		}
	}
	return deps
}

// Normalize repairs the raw plan a reasoning model produced: steps are
// sorted and renumbered densely from 1, steps without a tool are dropped,
// dangling dependencies are pruned, and the name is forced into snake_case
// with a _workflow suffix. Returns an error only when nothing usable
// remains.
func (p *Plan) Normalize() error {
	sort.SliceStable(p.Steps, func(i, j int) bool { return p.Steps[i].Step < p.Steps[j].Step })

	kept := p.Steps[:0]
	renumber := make(map[int]int)
	for _, s := range p.Steps {
		if s.Tool.IsZero() {
			continue
		}
		if _, dup := renumber[s.Step]; dup {
			continue
		}
		renumber[s.Step] = len(kept) + 1
		s.Step = len(kept) + 1
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return fmt.Errorf("workflow: plan has no usable steps")
	}

	for i := range kept {
		var deps []int
		for _, d := range kept[i].DependsOn {
			if n, ok := renumber[d]; ok && n < kept[i].Step {
				deps = append(deps, n)
			}
		}
		sort.Ints(deps)
		kept[i].DependsOn = deps
	}
	p.Steps = kept
	p.Name = normalizeName(p.Name)
	return nil
}

func normalizeName(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		s = "generated"
	}
	if !strings.HasSuffix(s, "_workflow") {
		s += "_workflow"
	}
	if len(s) > maxNameLen {
		s = strings.Trim(s[:maxNameLen], "_")
	}
	return s
}
