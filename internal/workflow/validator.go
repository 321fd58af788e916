package workflow

import (
	"fmt"
	"regexp"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/toolgate/toolgate/internal/catalog"
)

// Generated programs pass three checks before registration: the chunk must
// compile, every call() must name a declared dependency, and nothing on the
// deny list may appear. The generator is deterministic, but the plan feeding
// it came from a model; the contract check stands regardless.

var callPattern = regexp.MustCompile(`call\(\s*"([^"]*)"\s*,\s*"([^"]*)"`)

// denied covers escape hatches into the host (loaders, os/io access) and the
// unbounded loop forms the generator never emits.
var denied = []string{
	"load(", "loadstring", "dofile", "loadfile", "require",
	"os.", "io.", "debug.", "package.",
	"while ", "while(", "repeat", "goto ",
	"collectgarbage", "setmetatable", "getmetatable", "rawset", "rawget",
}

func Validate(source string, deps []catalog.ID) error {
	chunk, err := parse.Parse(strings.NewReader(source), "workflow")
	if err != nil {
		return fmt.Errorf("workflow: generated program does not parse: %w", err)
	}
	if _, err := lua.Compile(chunk, "workflow"); err != nil {
		return fmt.Errorf("workflow: generated program does not compile: %w", err)
	}

	lower := strings.ToLower(source)
	for _, bad := range denied {
		if strings.Contains(lower, bad) {
			return fmt.Errorf("workflow: generated program uses forbidden construct %q", strings.TrimRight(bad, "( "))
		}
	}

	if !strings.Contains(source, "function workflow(input)") {
		return fmt.Errorf("workflow: generated program missing workflow(input) entry point")
	}

	declared := make(map[string]bool, len(deps))
	for _, d := range deps {
		declared[d.String()] = true
	}
	calls := callPattern.FindAllStringSubmatch(source, -1)
	if len(calls) == 0 {
		return fmt.Errorf("workflow: generated program performs no tool calls")
	}
	for _, m := range calls {
		id := catalog.ID{Server: m[1], Tool: m[2]}
		if !declared[id.String()] {
			return fmt.Errorf("workflow: call to undeclared tool %s", id)
		}
	}
	return nil
}
