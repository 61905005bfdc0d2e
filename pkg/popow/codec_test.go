package popow

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func TestCodec_HeaderRoundTrip(t *testing.T) {
	h := mkHeader(types.Hash{1}, types.Hash{2}, 7, 3, []types.Hash{{1}, {9}, {8}})

	enc := EncodeHeader(h)
	decoded, err := DecodeHeader(enc)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}

	if decoded.ID() != h.ID() {
		t.Fatalf("decoded ID = %s, want %s", decoded.ID(), h.ID())
	}
	if decoded.Height() != h.Height() || decoded.ParentID() != h.ParentID() || decoded.NBits() != h.NBits() {
		t.Fatal("decoded scalar fields mismatch")
	}
	if decoded.Distance().Cmp(h.Distance()) != 0 {
		t.Fatal("decoded distance mismatch")
	}
	gotLinks, wantLinks := decoded.Interlinks(), h.Interlinks()
	if len(gotLinks) != len(wantLinks) {
		t.Fatalf("interlink count = %d, want %d", len(gotLinks), len(wantLinks))
	}
	for i := range wantLinks {
		if gotLinks[i] != wantLinks[i] {
			t.Fatalf("interlink[%d] mismatch", i)
		}
	}
}

func TestCodec_ProofRoundTrip(t *testing.T) {
	p := buildValidProof(t, 6, 6)

	data := Encode(p)
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.M != p.M || decoded.K != p.K {
		t.Fatalf("decoded (m,k) = (%d,%d), want (%d,%d)", decoded.M, decoded.K, p.M, p.K)
	}
	if decoded.SizeOpt == nil || *decoded.SizeOpt != len(data) {
		t.Fatalf("SizeOpt = %v, want %d", decoded.SizeOpt, len(data))
	}
	if len(decoded.Prefix) != len(p.Prefix) || len(decoded.Suffix) != len(p.Suffix) {
		t.Fatal("decoded prefix/suffix length mismatch")
	}
	for i := range p.Prefix {
		if decoded.Prefix[i].ID() != p.Prefix[i].ID() {
			t.Fatalf("prefix[%d] id mismatch", i)
		}
	}
	for i := range p.Suffix {
		if decoded.Suffix[i].ID() != p.Suffix[i].ID() {
			t.Fatalf("suffix[%d] id mismatch", i)
		}
	}
	if err := decoded.Validate(); err != nil {
		t.Fatalf("decoded proof failed Validate: %v", err)
	}
}

func TestCodec_FieldOrderIsKThenM(t *testing.T) {
	p := New(7, 9, []Header{mkGenesis()}, nil)
	data := Encode(p)

	gotK := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	gotM := uint32(data[4])<<24 | uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7])

	if gotK != uint32(p.K) {
		t.Fatalf("wire field 0 = %d, want k=%d", gotK, p.K)
	}
	if gotM != uint32(p.M) {
		t.Fatalf("wire field 1 = %d, want m=%d", gotM, p.M)
	}
}

func TestCodec_RejectsShortBuffer(t *testing.T) {
	_, err := Decode([]byte{0, 0})
	if !errors.Is(err, ErrMalformedProof) {
		t.Fatalf("err = %v, want ErrMalformedProof", err)
	}
}

func TestCodec_RejectsTrailingGarbage(t *testing.T) {
	p := New(1, 0, []Header{mkGenesis()}, nil)
	data := append(Encode(p), 0xff, 0xff, 0xff)

	_, err := Decode(data)
	if !errors.Is(err, ErrMalformedProof) {
		t.Fatalf("err = %v, want ErrMalformedProof for trailing garbage", err)
	}
}

func TestCodec_RejectsBadHeaderLength(t *testing.T) {
	p := New(1, 0, []Header{mkGenesis()}, nil)
	data := Encode(p)

	// Corrupt the first header's declared length (byte offset 12: after
	// k(4)+m(4)+prefixCount(4)) to claim more bytes than are present.
	corrupt := append([]byte(nil), data...)
	corrupt[12] = 0xff
	_, err := Decode(corrupt)
	if !errors.Is(err, ErrMalformedProof) {
		t.Fatalf("err = %v, want ErrMalformedProof", err)
	}
}
