package popow

import "github.com/Klingon-tech/klingnet-chain/pkg/types"

// UpdateInterlinks computes the interlink vector a child of parent must
// carry. A header of level L supersedes all interlink slots for levels
// 1..L, so those slots are replaced with parent's own id.
func UpdateInterlinks(parent Header) []types.Hash {
	if parent.IsGenesis() {
		return []types.Hash{parent.ID()}
	}

	v := parent.Interlinks()
	level := MaxLevel(parent)
	if level == 0 {
		return v
	}

	genesis := v[0]
	tail := v[1:]

	keep := len(tail) - level
	if keep < 0 {
		keep = 0
	}

	out := make([]types.Hash, 0, 1+keep+level)
	out = append(out, genesis)
	out = append(out, tail[:keep]...)
	for i := 0; i < level; i++ {
		out = append(out, parent.ID())
	}
	return out
}
