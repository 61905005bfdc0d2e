package popow

import (
	"math/big"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func TestMaxLevel_Genesis(t *testing.T) {
	if got := MaxLevel(mkGenesis()); got != InfinityLevel {
		t.Fatalf("genesis level = %d, want %d", got, InfinityLevel)
	}
}

func TestMaxLevel_NonNegative(t *testing.T) {
	for _, level := range []int{0, 1, 5, 17, 40} {
		h := mkHeader(types.Hash{}, types.Hash{}, 1, level, nil)
		if got := MaxLevel(h); got != level {
			t.Fatalf("level %d: MaxLevel = %d, want %d", level, got, level)
		}
		if MaxLevel(h) < 0 {
			t.Fatalf("level %d: MaxLevel returned negative", level)
		}
	}
}

func TestMaxLevel_DistanceAboveTargetClampsToZero(t *testing.T) {
	h := NewHeader(types.Hash{}, 1, testNBits, RequiredTarget(testNBits), nil, false)
	// distance == target exactly still reaches level 0 (d*2^0 <= T).
	if got := MaxLevel(h); got != 0 {
		t.Fatalf("distance == target: MaxLevel = %d, want 0", got)
	}

	tooLarge := new(big.Int).Add(RequiredTarget(testNBits), big.NewInt(1))
	h2 := NewHeader(types.Hash{}, 1, testNBits, tooLarge, nil, false)
	if got := MaxLevel(h2); got != 0 {
		t.Fatalf("distance > target: MaxLevel = %d, want clamped 0", got)
	}
}
