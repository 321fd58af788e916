package catalog

import (
	"context"
	"testing"

	"github.com/toolgate/toolgate/internal/embedding"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	c, err := New(embedding.NewHashEmbedder(32), store)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	register(t, c, "git", "status", "show working tree status")
	register(t, c, "files", "read", "read a file from disk")
	c.RecordExecution(ID{"git", "status"})
	if _, err := c.RegisterWorkflow(context.Background(),
		testWorkflow("report_workflow", "sig-persist", ID{"git", "status"}, ID{"files", "read"})); err != nil {
		t.Fatalf("RegisterWorkflow failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Fresh catalog over the same directory sees everything.
	store2, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	c2, err := New(embedding.NewHashEmbedder(32), store2)
	if err != nil {
		t.Fatalf("New over existing store failed: %v", err)
	}
	defer c2.Close()

	d, ok := c2.Lookup(ID{"git", "status"})
	if !ok {
		t.Fatal("tool lost across restart")
	}
	if d.ExecCount != 1 {
		t.Errorf("ExecCount = %d, want 1", d.ExecCount)
	}
	if len(d.Vector) != 32 {
		t.Errorf("vector not persisted, dim = %d", len(d.Vector))
	}
	w, ok := c2.WorkflowBySignature("sig-persist")
	if !ok {
		t.Fatal("workflow lost across restart")
	}
	if len(w.Deps) != 2 || w.Deps[0].String() != "git.status" {
		t.Errorf("deps = %v", w.Deps)
	}
	hits, err := c2.Search(context.Background(), "working tree status", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) == 0 || hits[0].ID.String() != "git.status" {
		t.Errorf("index not rebuilt from store: %v", hits)
	}
}

func TestStoreRetiredSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	c, _ := New(embedding.NewHashEmbedder(32), store)
	register(t, c, "git", "status", "git status")
	_ = c.Retire(ID{"git", "status"})
	_ = c.Close()

	store2, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	c2, _ := New(embedding.NewHashEmbedder(32), store2)
	defer c2.Close()

	if _, ok := c2.Lookup(ID{"git", "status"}); ok {
		t.Error("retired tool routable after restart")
	}
	if d, ok := c2.LookupAny(ID{"git", "status"}); !ok || d.State != Retired {
		t.Error("retired state lost across restart")
	}
}

func TestStoreMaterializedDemotedOnLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	c, _ := New(embedding.NewHashEmbedder(32), store)
	register(t, c, "git", "status", "git status")
	if _, err := c.Materialize(ID{"git", "status"}); err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	_ = c.Close()

	store2, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	c2, _ := New(embedding.NewHashEmbedder(32), store2)
	defer c2.Close()

	d, ok := c2.Lookup(ID{"git", "status"})
	if !ok {
		t.Fatal("tool lost across restart")
	}
	if d.State != Cataloged {
		t.Errorf("state after restart = %v, want Cataloged", d.State)
	}
}

func TestOpenStoreRequiresDataDir(t *testing.T) {
	if _, err := OpenStore(""); err == nil {
		t.Fatal("expected error for empty data dir")
	}
}
