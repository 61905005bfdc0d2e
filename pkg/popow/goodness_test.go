package popow

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// buildDenseChain builds a genesis-anchored chain where every other header
// reaches the given level, producing a dense, "good" superchain at that
// level relative to the full chain.
func buildDenseChain(t *testing.T, n int, level int) []Header {
	t.Helper()
	g := mkGenesis()
	chain := []Header{g}
	for i := 0; i < n; i++ {
		lvl := 0
		if i%2 == 0 {
			lvl = level
		}
		h := mkHeader(g.ID(), chain[len(chain)-1].ID(), uint64(i+1), lvl, []types.Hash{g.ID()})
		chain = append(chain, h)
	}
	return chain
}

func TestGoodSuperchain_DenseChainPasses(t *testing.T) {
	chain := buildDenseChain(t, 40, 1)
	super := HeadersOfLevel(chain, 1)

	params := Params{M: 3, K: 6, K1: 4, Delta: 0.3}
	if !GoodSuperchain(chain, super, 1, params) {
		t.Fatal("expected a dense alternating superchain to pass good_superchain")
	}
}

func TestGoodSuperchain_SparseChainFails(t *testing.T) {
	g := mkGenesis()
	chain := []Header{g}
	for i := 0; i < 40; i++ {
		lvl := 0
		if i == 39 {
			lvl = 1 // only the very last header reaches level 1
		}
		h := mkHeader(g.ID(), chain[len(chain)-1].ID(), uint64(i+1), lvl, []types.Hash{g.ID()})
		chain = append(chain, h)
	}
	super := HeadersOfLevel(chain, 1)

	params := Params{M: 3, K: 6, K1: 4, Delta: 0.1}
	if GoodSuperchain(chain, super, 1, params) {
		t.Fatal("expected a single-header superchain over a long chain to fail good_superchain")
	}
}
