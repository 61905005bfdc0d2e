package popow

import (
	"math/big"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// testNBits is a fixed nBits value used across tests; its decoded target is
// Q itself (clamped-to-1 difficulty), giving ample headroom to engineer an
// exact MaxLevel via distanceForLevel.
const testNBits = 0

// distanceForLevel returns a PoW distance d such that
// MaxLevel(header with testNBits and distance d) == level exactly, for any
// level small relative to Q's bit length (true for all levels used in
// tests).
func distanceForLevel(level int) *big.Int {
	t := RequiredTarget(testNBits)
	d := new(big.Int).Rsh(t, uint(level))
	if d.Sign() == 0 {
		d = big.NewInt(1)
	}
	return d
}

// mkHeader builds a non-genesis header at the given height/level, anchored
// under genesisID, with the given interlinks and parent id.
func mkHeader(genesisID, parentID types.Hash, height uint64, level int, interlinks []types.Hash) Header {
	return NewHeader(parentID, height, testNBits, distanceForLevel(level), interlinks, false)
}

// mkGenesis builds a genesis header.
func mkGenesis() Header {
	return NewHeader(types.Hash{}, 0, testNBits, nil, nil, true)
}
