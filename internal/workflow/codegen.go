package workflow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Generate emits the Lua program for a normalized plan. Generation is a
// deterministic template, never a generative step: the reasoning model only
// ever contributes the plan, and the output still passes Validate before
// registration.
//
// The program shape is fixed: one entry point taking one structured input,
// one bound call per step, results joined through the steps table.
func Generate(p *Plan) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "-- %s\n", p.Name)
	b.WriteString("function workflow(input)\n")
	b.WriteString("  local steps = {}\n")
	for _, s := range p.Steps {
		args, err := renderArgs(s)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "  steps[%d] = call(%q, %q, %s)\n", s.Step, s.Tool.Server, s.Tool.Tool, args)
	}
	fmt.Fprintf(&b, "  return { ok = true, result = steps[%d] }\n", len(p.Steps))
	b.WriteString("end\n")
	return b.String(), nil
}

func renderArgs(s Step) (string, error) {
	if len(s.Params) == 0 {
		return "{}", nil
	}
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{ ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		val, err := renderValue(s.Params[k], s.Step)
		if err != nil {
			return "", err
		}
		if identPattern.MatchString(k) {
			fmt.Fprintf(&b, "%s = %s", k, val)
		} else {
			fmt.Fprintf(&b, "[%q] = %s", k, val)
		}
	}
	b.WriteString(" }")
	return b.String(), nil
}

// renderValue maps a parameter source reference to a Lua expression.
// "$input.field" reads the workflow input, "$step.N[.field]" reads an
// earlier step's result, anything else is a literal string.
func renderValue(ref string, step int) (string, error) {
	switch {
	case strings.HasPrefix(ref, "$input."):
		field := strings.TrimPrefix(ref, "$input.")
		if !identPattern.MatchString(field) {
			return fmt.Sprintf("input[%q]", field), nil
		}
		return "input." + field, nil
	case strings.HasPrefix(ref, "$step."):
		rest := strings.TrimPrefix(ref, "$step.")
		numStr, field, hasField := strings.Cut(rest, ".")
		n, err := strconv.Atoi(numStr)
		if err != nil || n < 1 {
			return "", fmt.Errorf("workflow: bad step reference %q", ref)
		}
		if n >= step {
			return "", fmt.Errorf("workflow: step %d references step %d before it completes", step, n)
		}
		expr := fmt.Sprintf("steps[%d]", n)
		if hasField {
			if !identPattern.MatchString(field) {
				return fmt.Sprintf("%s[%q]", expr, field), nil
			}
			return expr + "." + field, nil
		}
		return expr, nil
	default:
		return strconv.Quote(ref), nil
	}
}

// InferSchemas derives the registered input/output schemas from the plan's
// parameter references. Every "$input.X" becomes a string-typed property;
// the output shape is the fixed {ok, result} envelope every generated
// program returns.
func InferSchemas(p *Plan) (inputSchema, outputSchema []byte, err error) {
	props := make(map[string]interface{})
	var required []string
	for _, s := range p.Steps {
		for _, ref := range s.Params {
			if !strings.HasPrefix(ref, "$input.") {
				continue
			}
			field := strings.TrimPrefix(ref, "$input.")
			if _, ok := props[field]; ok {
				continue
			}
			props[field] = map[string]string{"type": "string"}
			required = append(required, field)
		}
	}
	sort.Strings(required)

	in := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		in["required"] = required
	}
	inputSchema, err = json.Marshal(in)
	if err != nil {
		return nil, nil, fmt.Errorf("workflow: marshal input schema: %w", err)
	}
	outputSchema = []byte(`{"type":"object","properties":{"ok":{"type":"boolean"},"result":{"type":"object"}}}`)
	return inputSchema, outputSchema, nil
}
