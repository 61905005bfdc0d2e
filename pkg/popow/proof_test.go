package popow

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// buildValidProof constructs a proof with k suffix headers and m headers at
// each of two represented prefix levels (1 and 2), all correctly anchored.
func buildValidProof(t *testing.T, m, k int) *Proof {
	t.Helper()
	g := mkGenesis()
	prefix := []Header{g}

	height := uint64(1)
	for lvl := 1; lvl <= 2; lvl++ {
		for i := 0; i < m; i++ {
			h := mkHeader(g.ID(), prefix[len(prefix)-1].ID(), height, lvl, []types.Hash{g.ID()})
			prefix = append(prefix, h)
			height++
		}
	}

	suffix := make([]Header, 0, k)
	for i := 0; i < k; i++ {
		h := mkHeader(g.ID(), prefixOrSuffixTip(prefix, suffix), height, 0, []types.Hash{g.ID()})
		suffix = append(suffix, h)
		height++
	}

	return New(m, k, prefix, suffix)
}

func prefixOrSuffixTip(prefix, suffix []Header) types.Hash {
	if len(suffix) > 0 {
		return suffix[len(suffix)-1].ID()
	}
	return prefix[len(prefix)-1].ID()
}

func TestProof_ValidateAcceptsWellFormed(t *testing.T) {
	p := buildValidProof(t, 3, 6)
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestProof_ValidateRejectsBadSuffixLength(t *testing.T) {
	p := buildValidProof(t, 3, 6)
	p.Suffix = p.Suffix[:5] // k=6 but only 5 present
	err := p.Validate()
	if !errors.Is(err, ErrInvalidSuffixLength) {
		t.Fatalf("Validate err = %v, want ErrInvalidSuffixLength", err)
	}
}

func TestProof_ValidateRejectsUnanchoredChain(t *testing.T) {
	p := buildValidProof(t, 3, 6)
	// Corrupt one prefix-tail header's first interlink entry.
	bad := p.Prefix[1]
	links := bad.Interlinks()
	links[0] = types.Hash{0xde, 0xad}
	p.Prefix[1] = NewHeader(bad.ParentID(), bad.Height(), bad.NBits(), bad.Distance(), links, false)

	err := p.Validate()
	if !errors.Is(err, ErrChainNotAnchored) {
		t.Fatalf("Validate err = %v, want ErrChainNotAnchored", err)
	}
}

func TestProof_ValidateRejectsGroupSizeViolation(t *testing.T) {
	g := mkGenesis()
	// m=3: build exactly 3 headers at level 2 and only 2 at level 1.
	prefix := []Header{g}
	height := uint64(1)
	for i := 0; i < 3; i++ {
		h := mkHeader(g.ID(), prefix[len(prefix)-1].ID(), height, 2, []types.Hash{g.ID()})
		prefix = append(prefix, h)
		height++
	}
	for i := 0; i < 2; i++ {
		h := mkHeader(g.ID(), prefix[len(prefix)-1].ID(), height, 1, []types.Hash{g.ID()})
		prefix = append(prefix, h)
		height++
	}

	suffix := make([]Header, 6)
	for i := range suffix {
		parent := prefix[len(prefix)-1].ID()
		if i > 0 {
			parent = suffix[i-1].ID()
		}
		suffix[i] = mkHeader(g.ID(), parent, height, 0, []types.Hash{g.ID()})
		height++
	}

	p := New(3, 6, prefix, suffix)
	err := p.Validate()
	if !errors.Is(err, ErrInvalidPrefixLength) {
		t.Fatalf("Validate err = %v, want ErrInvalidPrefixLength", err)
	}
}
