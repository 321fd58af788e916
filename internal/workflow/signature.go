package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Signature computes the canonical content hash of a normalized plan: the
// ordered dependency tools plus the control-flow shape (per-step tool,
// dependency edges, parameter wiring). Request text never enters the hash,
// so semantically equivalent requests resolve to the same workflow.
func Signature(p *Plan) string {
	var b strings.Builder
	for _, dep := range p.Deps() {
		b.WriteString(dep.String())
		b.WriteByte('\n')
	}
	b.WriteString("--\n")
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "%d:%s:%v:", s.Step, s.Tool, s.DependsOn)
		keys := make([]string, 0, len(s.Params))
		for k := range s.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s=%s;", k, s.Params[k])
		}
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
