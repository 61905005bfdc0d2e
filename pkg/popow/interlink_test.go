package popow

import (
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func TestUpdateInterlinks_ChildOfGenesis(t *testing.T) {
	g := mkGenesis()
	got := UpdateInterlinks(g)
	if len(got) != 1 || got[0] != g.ID() {
		t.Fatalf("child-of-genesis interlinks = %v, want [%s]", got, g.ID())
	}
}

func TestUpdateInterlinks_LevelZeroUnchanged(t *testing.T) {
	genesisID := types.Hash{1}
	parent := mkHeader(genesisID, types.Hash{2}, 3, 0, []types.Hash{genesisID, {3}, {4}})

	got := UpdateInterlinks(parent)
	want := parent.Interlinks()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("interlink[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestUpdateInterlinks_LevelDropsLastLEntries(t *testing.T) {
	genesisID := types.Hash{1}
	// tail = [a, b, c]; level 2 should drop the last 2 entries of tail and
	// append 2 copies of parent's id.
	tail := []types.Hash{{0xa}, {0xb}, {0xc}}
	parent := mkHeader(genesisID, types.Hash{2}, 3, 2, append([]types.Hash{genesisID}, tail...))

	got := UpdateInterlinks(parent)
	want := []types.Hash{genesisID, tail[0], parent.ID(), parent.ID()}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("interlink[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestUpdateInterlinks_LevelExceedsTailLength(t *testing.T) {
	genesisID := types.Hash{1}
	// tail has only 1 entry but level is 5: keep = max(0, 1-5) = 0.
	parent := mkHeader(genesisID, types.Hash{2}, 3, 5, []types.Hash{genesisID, {0xa}})

	got := UpdateInterlinks(parent)
	want := append([]types.Hash{genesisID}, repeat(parent.ID(), 5)...)

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("interlink[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func repeat(h types.Hash, n int) []types.Hash {
	out := make([]types.Hash, n)
	for i := range out {
		out[i] = h
	}
	return out
}
