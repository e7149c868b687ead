package identity

import "sync"

// Graph is a concurrency-safe union-find over normalized identifiers.
// Merging is insertion-only; identifiers are never split. The root of a set
// is the canonical profile id for every identifier in it.
type Graph struct {
	mu     sync.Mutex
	parent map[Identifier]Identifier
	rank   map[Identifier]int
}

// NewGraph creates an empty identity graph.
func NewGraph() *Graph {
	return &Graph{
		parent: make(map[Identifier]Identifier),
		rank:   make(map[Identifier]int),
	}
}

// Find returns the canonical root for the given identifier, normalizing it
// and inserting it as a singleton set if unseen. Path compression keeps
// amortized lookups near O(α(n)).
func (g *Graph) Find(raw string) Identifier {
	id := Normalize(raw)

	g.mu.Lock()
	defer g.mu.Unlock()

	return g.findLocked(id)
}

// Union merges the sets containing a and b. The lexicographically smaller
// root always wins, so the canonical id of a set is its smallest identifier
// and is stable across merge orderings.
func (g *Graph) Union(a, b string) {
	idA := Normalize(a)
	idB := Normalize(b)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.unionLocked(idA, idB)
}

// CanonicalIDFor normalizes all identifiers, unions them into one set, and
// returns the canonical root. The result is independent of input order.
func (g *Graph) CanonicalIDFor(raws []string) Identifier {
	if len(raws) == 0 {
		return ""
	}

	ids := make([]Identifier, len(raws))
	for i, raw := range raws {
		ids[i] = Normalize(raw)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for i := 1; i < len(ids); i++ {
		g.unionLocked(ids[0], ids[i])
	}

	return g.findLocked(ids[0])
}

// Size returns the number of identifiers known to the graph.
func (g *Graph) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.parent)
}

func (g *Graph) findLocked(id Identifier) Identifier {
	if _, ok := g.parent[id]; !ok {
		g.parent[id] = id
		g.rank[id] = 0

		return id
	}

	root := id
	for g.parent[root] != root {
		root = g.parent[root]
	}

	// Path compression: repoint the chain directly at the root.
	for g.parent[id] != root {
		next := g.parent[id]
		g.parent[id] = root
		id = next
	}

	return root
}

func (g *Graph) unionLocked(a, b Identifier) {
	rootA := g.findLocked(a)
	rootB := g.findLocked(b)

	if rootA == rootB {
		return
	}

	// The smaller identifier becomes the root unconditionally. Rank-biased
	// attachment would be cheaper but makes the root depend on merge order;
	// path compression keeps lookups near-constant either way.
	if rootB < rootA {
		rootA, rootB = rootB, rootA
	}

	g.parent[rootB] = rootA

	if g.rank[rootA] == g.rank[rootB] {
		g.rank[rootA]++
	} else if g.rank[rootB] > g.rank[rootA] {
		g.rank[rootA] = g.rank[rootB] + 1
	}
}
