package popow

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func buildChain(t *testing.T, levels []int) []Header {
	t.Helper()
	g := mkGenesis()
	chain := []Header{g}
	prev := g
	for i, lvl := range levels {
		h := mkHeader(g.ID(), prev.ID(), uint64(i+1), lvl, []types.Hash{g.ID()})
		chain = append(chain, h)
		prev = h
	}
	return chain
}

func TestHeadersOfLevel(t *testing.T) {
	chain := buildChain(t, []int{0, 1, 2, 1, 0})
	// genesis always qualifies at every level.
	lvl2 := HeadersOfLevel(chain, 2)
	if len(lvl2) != 2 { // genesis + the single level-2 header
		t.Fatalf("len(HeadersOfLevel(2)) = %d, want 2", len(lvl2))
	}
	if !lvl2[0].IsGenesis() {
		t.Fatal("expected genesis first in level-2 subsequence")
	}
}

func TestLowestCommonAncestor_SharedPrefix(t *testing.T) {
	g := mkGenesis()
	h1 := mkHeader(g.ID(), g.ID(), 1, 0, []types.Hash{g.ID()})
	h2 := mkHeader(g.ID(), h1.ID(), 2, 0, []types.Hash{g.ID()})
	h3a := mkHeader(g.ID(), h2.ID(), 3, 0, []types.Hash{g.ID()})
	h3b := mkHeader(g.ID(), h2.ID(), 3, 1, []types.Hash{g.ID()})

	a := []Header{g, h1, h2, h3a}
	b := []Header{g, h1, h2, h3b}

	lca, ok := LowestCommonAncestor(a, b)
	if !ok {
		t.Fatal("expected a common ancestor")
	}
	if lca.ID() != h2.ID() {
		t.Fatalf("lca = height %d, want h2 (height %d)", lca.Height(), h2.Height())
	}
}

func TestLowestCommonAncestor_SelfIsLastShared(t *testing.T) {
	chain := buildChain(t, []int{0, 1, 0})
	lca, ok := LowestCommonAncestor(chain, chain)
	if !ok {
		t.Fatal("expected ok for identical chains")
	}
	if lca.ID() != chain[len(chain)-1].ID() {
		t.Fatalf("lca should be the shared tip")
	}
}

func TestLowestCommonAncestor_DifferentHeads(t *testing.T) {
	a := buildChain(t, []int{0})
	otherGenesis := NewHeader(types.Hash{0xff}, 0, testNBits, nil, nil, true)
	b := []Header{otherGenesis, mkHeader(otherGenesis.ID(), otherGenesis.ID(), 1, 0, []types.Hash{otherGenesis.ID()})}
	if _, ok := LowestCommonAncestor(a, b); ok {
		t.Fatal("expected no common ancestor for chains with different genesis headers")
	}
}

func TestBestArg_LevelZeroAlwaysAvailable(t *testing.T) {
	chain := buildChain(t, []int{0, 0, 0})
	score := BestArg(chain, 10) // m larger than any level-≥1 group
	if score.Int64() < int64(len(chain)) {
		t.Fatalf("BestArg = %s, want >= %d", score, len(chain))
	}
}

func TestBestArg_HigherLevelDominates(t *testing.T) {
	// 4 headers total (+ genesis); 3 headers reach level 5, satisfying m=3.
	chain := buildChain(t, []int{5, 5, 5})
	m := 3
	score := BestArg(chain, m)

	// candidate at mu=5: len(filtered)=4 (genesis + 3) << 5 = 128.
	want := int64(4 << 5)
	if score.Int64() != want {
		t.Fatalf("BestArg = %s, want %d", score, want)
	}
}
