// Package catalog is the durable, queryable collection of tool descriptors
// harvested from connected tool servers, plus the synthesized workflows
// registered alongside them. It owns the embedding index and is the single
// source of truth every other component reads.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/toolgate/toolgate/internal/embedding"
	"github.com/toolgate/toolgate/internal/index"
)

var ErrNotFound = fmt.Errorf("catalog: not found")

// RegisterInput is what a tool server advertises for one tool.
type RegisterInput struct {
	ID           ID
	Description  string
	InputSchema  []byte
	OutputSchema []byte
}

type Catalog struct {
	embedder embedding.Embedder

	mu          sync.RWMutex
	tools       map[string]*Descriptor
	workflows   map[string]*Workflow
	bySignature map[string]string // workflow signature -> descriptor id string
	idx         *index.Index
	seq         uint64
	version     uint64
	store       *Store
}

// New builds an in-memory catalog. store may be nil; when set, previously
// persisted descriptors and workflows are loaded and every mutation is
// written through.
func New(embedder embedding.Embedder, store *Store) (*Catalog, error) {
	c := &Catalog{
		embedder:    embedder,
		tools:       make(map[string]*Descriptor),
		workflows:   make(map[string]*Workflow),
		bySignature: make(map[string]string),
		idx:         index.New(),
		store:       store,
	}
	if store != nil {
		if err := c.load(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) load() error {
	tools, err := c.store.LoadTools()
	if err != nil {
		return err
	}
	for i := range tools {
		d := &tools[i]
		c.tools[d.ID.String()] = d
		if d.Seq > c.seq {
			c.seq = d.Seq
		}
		if d.State != Retired {
			c.idx.Upsert(d.ID.String(), d.Vector, d.Seq)
		}
	}
	workflows, err := c.store.LoadWorkflows()
	if err != nil {
		return err
	}
	for i := range workflows {
		w := &workflows[i]
		c.workflows[w.ID.String()] = w
		c.bySignature[w.Signature] = w.ID.String()
	}
	if len(tools) > 0 || len(workflows) > 0 {
		log.Printf("catalog: loaded %d tools, %d workflows", len(tools), len(workflows))
	}
	return nil
}

// Close releases the backing store, if any.
func (c *Catalog) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// Version is a counter bumped on every mutation that can change routing
// outcomes. Request fingerprints include it so cached decisions go stale
// when the catalog changes.
func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Register inserts or updates a descriptor. Identical content is a no-op. A
// changed description recomputes the embedding; a changed input or output
// schema additionally invalidates every workflow depending on the tool, so
// the next matching request resynthesizes against the new schema.
func (c *Catalog) Register(ctx context.Context, in RegisterInput) error {
	if in.ID.Server == "" || in.ID.Tool == "" {
		return fmt.Errorf("catalog: register: empty id")
	}
	key := in.ID.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.tools[key]
	if ok && existing.State != Retired &&
		existing.Description == in.Description &&
		bytes.Equal(existing.InputSchema, in.InputSchema) &&
		bytes.Equal(existing.OutputSchema, in.OutputSchema) {
		return nil
	}

	d := &Descriptor{
		ID:           in.ID,
		Description:  in.Description,
		InputSchema:  append([]byte(nil), in.InputSchema...),
		OutputSchema: append([]byte(nil), in.OutputSchema...),
		State:        Cataloged,
		RegisteredAt: time.Now(),
	}
	if ok {
		// Re-advertisement keeps the original registration order and
		// execution history.
		d.Seq = existing.Seq
		d.ExecCount = existing.ExecCount
		d.RegisteredAt = existing.RegisteredAt
		if existing.Description == in.Description && existing.State != Retired {
			d.Vector = existing.Vector
		}
		if !bytes.Equal(existing.InputSchema, in.InputSchema) || !bytes.Equal(existing.OutputSchema, in.OutputSchema) {
			c.invalidateDependentsLocked(in.ID)
		}
	} else {
		c.seq++
		d.Seq = c.seq
	}
	if d.Vector == nil {
		vec, err := c.embedder.Embed(ctx, d.embedText())
		if err != nil {
			return fmt.Errorf("catalog: embedding %s: %w", key, err)
		}
		d.Vector = vec
	}

	c.tools[key] = d
	c.idx.Upsert(key, d.Vector, d.Seq)
	c.version++
	if c.store != nil {
		if err := c.store.SaveTool(d); err != nil {
			return err
		}
	}
	log.Printf("catalog: registered %s (seq %d)", key, d.Seq)
	return nil
}

// Retire marks a descriptor retired and removes it from the index. The row
// stays resolvable through LookupAny so in-flight sessions can report a
// clear error instead of dangling.
func (c *Catalog) Retire(id ID) error {
	key := id.String()
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.tools[key]
	if !ok || d.State == Retired {
		return ErrNotFound
	}
	d.State = Retired
	c.idx.Remove(key)
	c.version++
	if c.store != nil {
		if err := c.store.SaveTool(d); err != nil {
			return err
		}
	}
	log.Printf("catalog: retired %s", key)
	return nil
}

// RetireServer retires every non-retired descriptor belonging to server.
// Used when a tool server disconnects.
func (c *Catalog) RetireServer(server string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, d := range c.tools {
		if d.ID.Server != server || d.State == Retired {
			continue
		}
		d.State = Retired
		c.idx.Remove(key)
		n++
		if c.store != nil {
			_ = c.store.SaveTool(d)
		}
	}
	if n > 0 {
		c.version++
		log.Printf("catalog: retired %d tools for server %s", n, server)
	}
	return n
}

// Lookup returns a copy of the descriptor, treating retired tools as absent.
func (c *Catalog) Lookup(id ID) (*Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.tools[id.String()]
	if !ok || d.State == Retired {
		return nil, false
	}
	return d.clone(), true
}

// LookupAny resolves retired descriptors too, for session error reporting.
func (c *Catalog) LookupAny(id ID) (*Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.tools[id.String()]
	if !ok {
		return nil, false
	}
	return d.clone(), true
}

// Search embeds the query text and returns at most k hits sorted by
// descending cosine similarity, ties broken by registration order.
func (c *Catalog) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	vec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: embedding query: %w", err)
	}
	matches := c.idx.Search(vec, k)
	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		id, err := ParseID(m.ID)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: m.Score})
	}
	return hits, nil
}

// Materialize marks the descriptor visible to the calling model and returns
// a copy carrying its full schema. Materialization does not bump the catalog
// version; it changes what the caller sees, not what routing would decide.
func (c *Catalog) Materialize(id ID) (*Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.tools[id.String()]
	if !ok || d.State == Retired {
		return nil, ErrNotFound
	}
	d.State = Materialized
	d.MaterializedAt = time.Now()
	if c.store != nil {
		if err := c.store.SaveTool(d); err != nil {
			return nil, err
		}
	}
	return d.clone(), nil
}

// SweepMaterialized demotes materialized descriptors back to Cataloged once
// their TTL lapses, and enforces a max count by demoting oldest-first.
// Returns the number demoted.
func (c *Catalog) SweepMaterialized(ttl time.Duration, max int) int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	var live []*Descriptor
	demoted := 0
	for _, d := range c.tools {
		if d.State != Materialized {
			continue
		}
		if ttl > 0 && now.Sub(d.MaterializedAt) > ttl {
			d.State = Cataloged
			demoted++
			if c.store != nil {
				_ = c.store.SaveTool(d)
			}
			continue
		}
		live = append(live, d)
	}
	if max > 0 && len(live) > max {
		sort.Slice(live, func(i, j int) bool {
			return live[i].MaterializedAt.Before(live[j].MaterializedAt)
		})
		for _, d := range live[:len(live)-max] {
			d.State = Cataloged
			demoted++
			if c.store != nil {
				_ = c.store.SaveTool(d)
			}
		}
	}
	return demoted
}

// RecordExecution bumps the per-descriptor execution counter.
func (c *Catalog) RecordExecution(id ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.tools[id.String()]
	if !ok {
		return
	}
	d.ExecCount++
	if c.store != nil {
		_ = c.store.SaveTool(d)
	}
}

// RegisterWorkflow registers a synthesized workflow and its descriptor under
// the orchestrated namespace. If a workflow with the same signature already
// exists, the existing one is returned unchanged.
func (c *Catalog) RegisterWorkflow(ctx context.Context, wf *Workflow) (*Workflow, error) {
	if wf.Signature == "" {
		return nil, fmt.Errorf("catalog: workflow %q has no signature", wf.Name)
	}

	c.mu.Lock()
	if key, ok := c.bySignature[wf.Signature]; ok {
		existing := c.workflows[key]
		c.mu.Unlock()
		return existing.clone(), nil
	}
	c.mu.Unlock()

	id := ID{Server: OrchestratedServer, Tool: wf.Name}
	w := wf.clone()
	w.Version = 1
	w.CreatedAt = time.Now()

	desc := "Synthesized workflow: " + wf.Name
	vec, err := c.embedder.Embed(ctx, wf.Name+" "+desc)
	if err != nil {
		return nil, fmt.Errorf("catalog: embedding workflow %s: %w", wf.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check under the write lock; a concurrent synthesis may have won.
	if key, ok := c.bySignature[wf.Signature]; ok {
		return c.workflows[key].clone(), nil
	}
	// A different plan can normalize to the same name; disambiguate with a
	// signature fragment rather than clobbering the existing workflow.
	if _, taken := c.workflows[id.String()]; taken {
		id.Tool = wf.Name + "_" + wf.Signature[:min(8, len(wf.Signature))]
	}
	w.ID = id
	key := id.String()
	c.seq++
	d := &Descriptor{
		ID:           id,
		Description:  desc,
		InputSchema:  append([]byte(nil), wf.InputSchema...),
		OutputSchema: append([]byte(nil), wf.OutputSchema...),
		Vector:       vec,
		State:        Cataloged,
		Seq:          c.seq,
		RegisteredAt: w.CreatedAt,
	}
	c.tools[key] = d
	c.idx.Upsert(key, vec, d.Seq)
	c.workflows[key] = w
	c.bySignature[wf.Signature] = key
	c.version++
	if c.store != nil {
		if err := c.store.SaveTool(d); err != nil {
			return nil, err
		}
		if err := c.store.SaveWorkflow(w); err != nil {
			return nil, err
		}
	}
	log.Printf("catalog: registered workflow %s (deps %v)", key, w.Deps)
	return w.clone(), nil
}

// Workflow resolves a workflow by its descriptor id.
func (c *Catalog) Workflow(id ID) (*Workflow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workflows[id.String()]
	if !ok {
		return nil, false
	}
	return w.clone(), true
}

// WorkflowBySignature resolves a workflow by content signature.
func (c *Catalog) WorkflowBySignature(sig string) (*Workflow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.bySignature[sig]
	if !ok {
		return nil, false
	}
	return c.workflows[key].clone(), true
}

// invalidateDependentsLocked drops every workflow depending on the given
// tool and retires its descriptor. Invalidation never patches a workflow in
// place: the next matching request triggers full resynthesis.
func (c *Catalog) invalidateDependentsLocked(tool ID) {
	for key, w := range c.workflows {
		if !w.DependsOn(tool) {
			continue
		}
		delete(c.workflows, key)
		delete(c.bySignature, w.Signature)
		if d, ok := c.tools[key]; ok && d.State != Retired {
			d.State = Retired
			c.idx.Remove(key)
			if c.store != nil {
				_ = c.store.SaveTool(d)
			}
		}
		if c.store != nil {
			_ = c.store.DeleteWorkflow(w.ID.String())
		}
		log.Printf("catalog: invalidated workflow %s (schema change in %s)", key, tool)
	}
}

// Stats is a point-in-time summary for maintenance logging.
type Stats struct {
	Tools        int
	Materialized int
	Retired      int
	Workflows    int
	Version      uint64
}

func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{Workflows: len(c.workflows), Version: c.version}
	for _, d := range c.tools {
		s.Tools++
		switch d.State {
		case Materialized:
			s.Materialized++
		case Retired:
			s.Retired++
		}
	}
	return s
}
