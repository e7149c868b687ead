package identity_test

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminal-data/luminal/pkg/identity"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want identity.Identifier
	}{
		{name: "user prefix", raw: "user:u-1", want: "user:u-1"},
		{name: "email prefix lowercased", raw: "email:Alice@Example.COM", want: "email:alice@example.com"},
		{name: "anon prefix", raw: "anon:a-42", want: "anon:a-42"},
		{name: "bare email classified", raw: "Bob@Example.com", want: "email:bob@example.com"},
		{name: "bare anonymous classified", raw: "anonymous-17", want: "anon:anonymous-17"},
		{name: "bare anon classified", raw: "anonXYZ", want: "anon:anonXYZ"},
		{name: "bare user classified", raw: "u-99", want: "user:u-99"},
		{name: "whitespace trimmed", raw: "  user: u-1 ", want: "user:u-1"},
		{name: "user value keeps case", raw: "user:Alice", want: "user:Alice"},
		{name: "unknown prefix treated as value", raw: "uuid:1234", want: "user:uuid:1234"},
		{name: "empty degrades to user", raw: "", want: "user:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := identity.Normalize(tt.raw)
			assert.Equal(t, tt.want, got)

			// Idempotence: normalizing the canonical form is a no-op.
			assert.Equal(t, got, identity.Normalize(string(got)))
		})
	}
}

func TestIdentifierParts(t *testing.T) {
	t.Parallel()

	id := identity.Normalize("email:User@Host.io")
	assert.Equal(t, identity.SchemeEmail, id.Scheme())
	assert.Equal(t, "user@host.io", id.Value())
	assert.Equal(t, "email:user@host.io", id.String())
}

func TestGraphFindInsertsSingleton(t *testing.T) {
	t.Parallel()

	g := identity.NewGraph()

	root := g.Find("user:u-1")
	assert.Equal(t, identity.Identifier("user:u-1"), root)
	assert.Equal(t, 1, g.Size())
}

func TestGraphUnionTransitivity(t *testing.T) {
	t.Parallel()

	g := identity.NewGraph()
	g.Union("user:u-1", "email:a@b.io")
	g.Union("email:a@b.io", "anon:a-7")

	require.Equal(t, g.Find("user:u-1"), g.Find("anon:a-7"))
	assert.Equal(t, g.Find("email:a@b.io"), g.Find("anon:a-7"))
}

func TestGraphUnionSameRootNoOp(t *testing.T) {
	t.Parallel()

	g := identity.NewGraph()
	g.Union("user:u-1", "user:u-2")
	root := g.Find("user:u-1")

	g.Union("user:u-2", "user:u-1")
	assert.Equal(t, root, g.Find("user:u-1"))
	assert.Equal(t, 2, g.Size())
}

func TestCanonicalIDStableAcrossPermutations(t *testing.T) {
	t.Parallel()

	ids := []string{"user:zeta", "email:m@n.io", "anon:anon-3", "user:alpha", "email:b@c.io"}

	perm := make([]string, len(ids))
	copy(perm, ids)

	var want identity.Identifier

	rng := rand.New(rand.NewSource(1))

	for trial := range 50 {
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		g := identity.NewGraph()
		got := g.CanonicalIDFor(perm)

		if trial == 0 {
			want = got

			continue
		}

		require.Equal(t, want, got, "permutation %v", perm)
	}
}

func TestCanonicalIDStableAcrossMergeHistories(t *testing.T) {
	t.Parallel()

	// Build the same connected set through different union sequences and
	// require an identical canonical root.
	left := identity.NewGraph()
	left.Union("user:b", "user:c")
	left.Union("user:b", "user:a")

	right := identity.NewGraph()
	right.Union("user:a", "user:b")
	right.Union("user:b", "user:c")

	assert.Equal(t, left.Find("user:c"), right.Find("user:c"))
}

func TestCanonicalIDForSingleAndEmpty(t *testing.T) {
	t.Parallel()

	g := identity.NewGraph()

	assert.Equal(t, identity.Identifier(""), g.CanonicalIDFor(nil))
	assert.Equal(t, identity.Identifier("user:solo"), g.CanonicalIDFor([]string{"solo"}))
}

func TestGraphConcurrentUnions(t *testing.T) {
	t.Parallel()

	g := identity.NewGraph()

	const workers = 8

	const perWorker = 100

	var wg sync.WaitGroup

	for w := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range perWorker {
				g.Union(fmt.Sprintf("user:u-%d", i), fmt.Sprintf("anon:anon-%d-%d", w, i))
			}
		}()
	}

	wg.Wait()

	// Every chain through user:u-i must share one root with all anon ids
	// unioned against it.
	for i := range perWorker {
		root := g.Find(fmt.Sprintf("user:u-%d", i))
		for w := range workers {
			assert.Equal(t, root, g.Find(fmt.Sprintf("anon:anon-%d-%d", w, i)))
		}
	}
}
