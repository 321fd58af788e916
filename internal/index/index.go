// Package index is the in-memory vector index over tool descriptors.
// Search is deterministic: descending cosine similarity, ties broken by
// registration sequence so earlier-registered tools win.
package index

import (
	"sort"
	"sync"

	"github.com/toolgate/toolgate/internal/embedding"
)

type entry struct {
	id  string
	vec []float32
	seq uint64
}

type Match struct {
	ID    string
	Score float64
}

type Index struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Index {
	return &Index{entries: make(map[string]entry)}
}

// Upsert inserts or replaces the vector for id. seq is the catalog
// registration sequence and must be stable across re-advertisements of the
// same tool.
func (ix *Index) Upsert(id string, vec []float32, seq uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.entries[id] = entry{id: id, vec: vec, seq: seq}
}

func (ix *Index) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.entries, id)
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Search returns at most k matches sorted by descending score. Entries whose
// dimension does not match the query are skipped.
func (ix *Index) Search(query []float32, k int) []Match {
	ix.mu.RLock()
	scored := make([]struct {
		Match
		seq uint64
	}, 0, len(ix.entries))
	for _, e := range ix.entries {
		score, err := embedding.Cosine(query, e.vec)
		if err != nil {
			continue
		}
		scored = append(scored, struct {
			Match
			seq uint64
		}{Match{ID: e.id, Score: score}, e.seq})
	}
	ix.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].seq < scored[j].seq
	})

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	out := make([]Match, len(scored))
	for i, s := range scored {
		out[i] = s.Match
	}
	return out
}
