package popow

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// minHeaderLen is the smallest a well-formed encoded header can be:
// isGenesis(1) + height(8) + parentID(32) + nBits(4) + distance(32) + interlinkCount(4).
const minHeaderLen = 1 + 8 + 32 + 4 + distanceSize + 4

// EncodeHeader serializes a header to its canonical byte image. This is the
// "external header codec" the proof codec relies on (spec §4.7).
func EncodeHeader(h Header) []byte {
	return CanonicalBytes(h)
}

// DecodeHeader parses a header from its canonical byte image, re-deriving
// its id by hashing the input bytes (invariant: id == hash(encode(header))).
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < minHeaderLen {
		return Header{}, fmt.Errorf("%w: header too short", ErrMalformedProof)
	}

	off := 0
	isGenesis := data[off] != 0
	off++

	height := binary.BigEndian.Uint64(data[off : off+8])
	off += 8

	var parentID types.Hash
	copy(parentID[:], data[off:off+32])
	off += 32

	nBits := binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	distance := new(big.Int).SetBytes(data[off : off+distanceSize])
	off += distanceSize

	count := binary.BigEndian.Uint32(data[off : off+4])
	off += 4

	if uint64(off)+uint64(count)*32 != uint64(len(data)) {
		return Header{}, fmt.Errorf("%w: header interlink count does not match buffer length", ErrMalformedProof)
	}

	interlinks := make([]types.Hash, count)
	for i := range interlinks {
		copy(interlinks[i][:], data[off:off+32])
		off += 32
	}

	h := Header{
		parentID:   parentID,
		height:     height,
		nBits:      nBits,
		distance:   distance,
		interlinks: interlinks,
		isGenesis:  isGenesis,
	}
	h.id = crypto.Hash(data)
	return h, nil
}

// Encode serializes a proof to its canonical wire format: big-endian,
// length-prefixed. Field order is k then m — the wire asymmetry versus the
// logical (m, k) constructor order is consensus-observable and must be
// preserved bit-exactly.
func Encode(p *Proof) []byte {
	buf := make([]byte, 0, 64+len(p.Prefix)*64+len(p.Suffix)*64)

	buf = binary.BigEndian.AppendUint32(buf, uint32(p.K))
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.M))

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Prefix)))
	for _, h := range p.Prefix {
		enc := EncodeHeader(h)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Suffix)))
	for _, h := range p.Suffix {
		enc := EncodeHeader(h)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(enc)))
		buf = append(buf, enc...)
	}

	return buf
}

// Decode parses a proof from its canonical wire format. Trailing garbage
// (bytes left over once every declared count and length has been consumed)
// is an error, not tolerated.
func Decode(data []byte) (*Proof, error) {
	r := &cursor{data: data}

	k, err := r.uint32()
	if err != nil {
		return nil, err
	}
	m, err := r.uint32()
	if err != nil {
		return nil, err
	}

	prefix, err := decodeHeaderList(r)
	if err != nil {
		return nil, err
	}
	suffix, err := decodeHeaderList(r)
	if err != nil {
		return nil, err
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedProof, r.remaining())
	}

	size := len(data)
	return &Proof{
		M:       int(m),
		K:       int(k),
		Prefix:  prefix,
		Suffix:  suffix,
		SizeOpt: &size,
	}, nil
}

func decodeHeaderList(r *cursor) ([]Header, error) {
	count, err := r.uint32()
	if err != nil {
		return nil, err
	}

	out := make([]Header, count)
	for i := range out {
		headerLen, err := r.uint32()
		if err != nil {
			return nil, err
		}
		raw, err := r.bytes(int(headerLen))
		if err != nil {
			return nil, err
		}
		h, err := DecodeHeader(raw)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

// cursor is a minimal forward-only reader over a byte slice, tracking
// position explicitly so Decode can report exact trailing-byte counts.
type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) remaining() int { return len(c.data) - c.pos }

func (c *cursor) uint32() (uint32, error) {
	if c.remaining() < 4 {
		return 0, fmt.Errorf("%w: short buffer reading uint32", ErrMalformedProof)
	}
	v := binary.BigEndian.Uint32(c.data[c.pos : c.pos+4])
	c.pos += 4
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("%w: short buffer reading %d bytes", ErrMalformedProof, n)
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}
