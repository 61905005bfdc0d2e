package popowstore

import (
	"math/big"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/popow"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

const testNBits = 0

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(storage.NewMemory())
}

// distanceForLevel returns a PoW distance that makes a header's MaxLevel
// equal exactly level, for a header mined at testNBits.
func distanceForLevel(level int) *big.Int {
	d := popow.RequiredTarget(testNBits)
	d.Rsh(d, uint(level))
	return d
}

// buildProof constructs a two-header (genesis + tip) proof anchored at
// genesis, where the tip reaches the given level.
func buildProof(level int) *popow.Proof {
	g := popow.NewHeader(types.Hash{}, 0, testNBits, nil, nil, true)
	tip := popow.NewHeader(g.ID(), 1, testNBits, distanceForLevel(level), []types.Hash{g.ID()}, false)
	return popow.New(1, 0, []popow.Header{g, tip}, nil)
}

func TestStore_OfferAcceptsFirstProof(t *testing.T) {
	s := testStore(t)
	chainID := types.Hash{1}

	p := buildProof(0)
	accepted, err := s.Offer(chainID, p)
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if !accepted {
		t.Fatal("expected first proof to be accepted")
	}

	got, ok, err := s.Best(chainID)
	if err != nil || !ok {
		t.Fatalf("Best: ok=%v err=%v", ok, err)
	}
	if got.K != p.K || got.M != p.M {
		t.Fatal("stored proof does not match offered proof")
	}
}

func TestStore_OfferRejectsWorseProof(t *testing.T) {
	s := testStore(t)
	chainID := types.Hash{2}

	strong := buildProof(5)
	weak := buildProof(0)

	if ok, err := s.Offer(chainID, strong); err != nil || !ok {
		t.Fatalf("expected strong proof accepted, ok=%v err=%v", ok, err)
	}
	if ok, err := s.Offer(chainID, weak); err != nil || ok {
		t.Fatalf("expected weaker proof rejected, ok=%v err=%v", ok, err)
	}

	got, _, err := s.Best(chainID)
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if len(got.Prefix) != len(strong.Prefix) {
		t.Fatal("store should still hold the strong proof")
	}
}

func TestStore_OfferAcceptsBetterProof(t *testing.T) {
	s := testStore(t)
	chainID := types.Hash{3}

	weak := buildProof(0)
	strong := buildProof(5)

	if ok, _ := s.Offer(chainID, weak); !ok {
		t.Fatal("expected weak proof accepted as first")
	}
	if ok, err := s.Offer(chainID, strong); err != nil || !ok {
		t.Fatalf("expected strictly better proof accepted, ok=%v err=%v", ok, err)
	}
}

func TestStore_NoProofYet(t *testing.T) {
	s := testStore(t)
	_, ok, err := s.Best(types.Hash{9})
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if ok {
		t.Fatal("expected no proof for unknown chain")
	}
}
