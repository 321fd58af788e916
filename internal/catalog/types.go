package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OrchestratedServer is the synthetic server name workflows register under.
const OrchestratedServer = "orchestrated"

// ID identifies one tool as a (server, tool) pair. The canonical string form
// is "server.tool"; tool names may themselves contain dots, the server name
// may not.
type ID struct {
	Server string
	Tool   string
}

func (id ID) String() string {
	return id.Server + "." + id.Tool
}

func (id ID) IsZero() bool {
	return id.Server == "" && id.Tool == ""
}

// ParseID splits "server.tool" at the first dot.
func ParseID(s string) (ID, error) {
	i := strings.Index(s, ".")
	if i <= 0 || i == len(s)-1 {
		return ID{}, fmt.Errorf("catalog: malformed tool id %q, want server.tool", s)
	}
	return ID{Server: s[:i], Tool: s[i+1:]}, nil
}

type State int

const (
	Cataloged State = iota
	Materialized
	Retired
)

func (s State) String() string {
	switch s {
	case Cataloged:
		return "cataloged"
	case Materialized:
		return "materialized"
	case Retired:
		return "retired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Descriptor is one invocable capability exposed by a connected tool server,
// plus the routing metadata the catalog maintains for it.
type Descriptor struct {
	ID           ID
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Vector       []float32
	State        State
	Seq          uint64
	ExecCount    int64
	RegisteredAt   time.Time
	MaterializedAt time.Time
}

func (d *Descriptor) clone() *Descriptor {
	c := *d
	c.Vector = append([]float32(nil), d.Vector...)
	c.InputSchema = append(json.RawMessage(nil), d.InputSchema...)
	c.OutputSchema = append(json.RawMessage(nil), d.OutputSchema...)
	return &c
}

// embedText is the text the descriptor's vector is derived from.
func (d *Descriptor) embedText() string {
	return d.ID.Tool + " " + d.Description
}

// Workflow is a synthesized composition of tool calls, registered in the
// catalog as a descriptor under the orchestrated namespace.
type Workflow struct {
	ID           ID
	Name         string
	Source       string
	Deps         []ID
	Signature    string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Version      int
	CreatedAt    time.Time
}

func (w *Workflow) DependsOn(id ID) bool {
	for _, d := range w.Deps {
		if d == id {
			return true
		}
	}
	return false
}

func (w *Workflow) clone() *Workflow {
	c := *w
	c.Deps = append([]ID(nil), w.Deps...)
	c.InputSchema = append(json.RawMessage(nil), w.InputSchema...)
	c.OutputSchema = append(json.RawMessage(nil), w.OutputSchema...)
	return &c
}

// Hit is one search result.
type Hit struct {
	ID    ID
	Score float64
}
