// Package popow implements the NiPoPoW (Non-Interactive Proof of
// Proof-of-Work) proof object: a compact, self-contained certificate that a
// participant has seen a sufficiently strong chain. The package is pure and
// stateless — every operation is synchronous, allocation-bounded by its
// input size, and safe to call concurrently on shared or distinct values.
package popow

import (
	"encoding/binary"
	"math/big"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// distanceSize is the fixed byte width used to encode a header's PoW
// distance, matching the 32-byte width already used for hashes throughout
// Klingnet.
const distanceSize = 32

// Header is a read-only projection of a block header, carrying exactly the
// fields the proof algebra needs: identity, ancestry, PoW strength, and the
// interlink vector.
type Header struct {
	id         types.Hash
	parentID   types.Hash
	height     uint64
	nBits      uint32
	distance   *big.Int
	interlinks []types.Hash
	isGenesis  bool
}

// NewHeader builds a Header and computes its id from the canonical byte
// image. distance must be non-negative; a nil distance is treated as zero.
func NewHeader(parentID types.Hash, height uint64, nBits uint32, distance *big.Int, interlinks []types.Hash, isGenesis bool) Header {
	if distance == nil {
		distance = new(big.Int)
	}
	h := Header{
		parentID:   parentID,
		height:     height,
		nBits:      nBits,
		distance:   new(big.Int).Set(distance),
		interlinks: append([]types.Hash(nil), interlinks...),
		isGenesis:  isGenesis,
	}
	h.id = crypto.Hash(CanonicalBytes(h))
	return h
}

// ID returns the header's stable identifier: hash(CanonicalBytes(h)).
func (h Header) ID() types.Hash { return h.id }

// ParentID returns the parent header's identifier.
func (h Header) ParentID() types.Hash { return h.parentID }

// Height returns the header's chain height.
func (h Header) Height() uint64 { return h.height }

// NBits returns the encoded compact PoW target.
func (h Header) NBits() uint32 { return h.nBits }

// Distance returns a copy of the header's PoW distance d.
func (h Header) Distance() *big.Int { return new(big.Int).Set(h.distance) }

// Interlinks returns a copy of the header's interlink vector.
func (h Header) Interlinks() []types.Hash {
	return append([]types.Hash(nil), h.interlinks...)
}

// IsGenesis reports whether this is the genesis header.
func (h Header) IsGenesis() bool { return h.isGenesis }

// CanonicalBytes returns the byte image used both for id hashing and for
// over-the-wire header framing (see EncodeHeader). The layout is:
//
//	isGenesis(1) | height(8 BE) | parentID(32) | nBits(4 BE) |
//	distance(32, zero-padded big-endian) | interlinkCount(4 BE) | interlinks(32 each)
func CanonicalBytes(h Header) []byte {
	n := len(h.interlinks)
	buf := make([]byte, 0, 1+8+32+4+distanceSize+4+n*32)

	if h.isGenesis {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint64(buf, h.height)
	buf = append(buf, h.parentID[:]...)
	buf = binary.BigEndian.AppendUint32(buf, h.nBits)

	var distBytes [distanceSize]byte
	h.distance.FillBytes(distBytes[:])
	buf = append(buf, distBytes[:]...)

	buf = binary.BigEndian.AppendUint32(buf, uint32(n))
	for _, link := range h.interlinks {
		buf = append(buf, link[:]...)
	}
	return buf
}
