package popow

import (
	"math/big"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func TestHeader_IDIsHashOfCanonicalBytes(t *testing.T) {
	h := NewHeader(types.Hash{1}, 5, 0x1f00ffff, big.NewInt(12345), []types.Hash{{9}}, false)

	want := crypto.Hash(CanonicalBytes(h))
	if h.ID() != want {
		t.Fatalf("ID() = %s, want %s", h.ID(), want)
	}
}

func TestHeader_GenesisLevelSentinel(t *testing.T) {
	g := NewHeader(types.Hash{}, 0, 0, nil, nil, true)
	if MaxLevel(g) != InfinityLevel {
		t.Fatalf("genesis level = %d, want %d", MaxLevel(g), InfinityLevel)
	}
}

func TestHeader_InterlinksAreCopied(t *testing.T) {
	links := []types.Hash{{1}, {2}}
	h := NewHeader(types.Hash{}, 1, 0x1f00ffff, big.NewInt(1), links, false)

	got := h.Interlinks()
	got[0] = types.Hash{0xff}
	if h.Interlinks()[0] == (types.Hash{0xff}) {
		t.Fatal("Interlinks() leaked internal slice, mutation visible")
	}
}
