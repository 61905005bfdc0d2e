package popow

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func TestIsBetterThan_DominanceByHigherLevel(t *testing.T) {
	g := mkGenesis()
	h1 := mkHeader(g.ID(), g.ID(), 1, 0, []types.Hash{g.ID()})
	h2 := mkHeader(g.ID(), h1.ID(), 2, 0, []types.Hash{g.ID()})

	// Shared prefix [g, h1, h2]; A continues with a level-5 header, B with
	// three level-0 headers. With m=1 the single level-5 header qualifies at
	// every level up to 5, so A scores 2^5 = 32 against B's level-0 score of 3.
	aTip := mkHeader(g.ID(), h2.ID(), 3, 5, []types.Hash{g.ID()})
	a := New(1, 1, []Header{g, h1, h2, aTip}, []Header{mkHeader(g.ID(), aTip.ID(), 4, 0, []types.Hash{g.ID()})})

	bTip1 := mkHeader(g.ID(), h2.ID(), 3, 0, []types.Hash{g.ID()})
	bTip2 := mkHeader(g.ID(), bTip1.ID(), 4, 0, []types.Hash{g.ID()})
	bTip3 := mkHeader(g.ID(), bTip2.ID(), 5, 0, []types.Hash{g.ID()})
	b := New(1, 1, []Header{g, h1, h2, bTip1, bTip2, bTip3}, []Header{mkHeader(g.ID(), bTip3.ID(), 6, 0, []types.Hash{g.ID()})})

	if !a.IsBetterThan(b) {
		t.Fatal("expected a single level-5 header to dominate three level-0 headers")
	}
	if b.IsBetterThan(a) {
		t.Fatal("IsBetterThan should not be symmetric here")
	}
}

func TestIsBetterThan_TieFavorsIncumbent(t *testing.T) {
	g := mkGenesis()
	h1 := mkHeader(g.ID(), g.ID(), 1, 2, []types.Hash{g.ID()})

	a := New(1, 0, []Header{g, h1}, nil)
	b := New(1, 0, []Header{g, h1}, nil)

	if a.IsBetterThan(b) {
		t.Fatal("equal scores must not be considered better (tie favors incumbent)")
	}
}

func TestIsBetterThan_NoSharedGenesisFallsBackToFullPrefix(t *testing.T) {
	gA := NewHeader(types.Hash{}, 0, testNBits, nil, nil, true)
	gB := NewHeader(types.Hash{0xff}, 0, testNBits, nil, nil, true)

	a := New(1, 0, []Header{gA}, nil)
	b := New(1, 0, []Header{gB}, nil)

	// Neither dominates: both are single-header (genesis-only) prefixes.
	if a.IsBetterThan(b) || b.IsBetterThan(a) {
		t.Fatal("equal-length disjoint-genesis prefixes should tie, not dominate")
	}
}
