package popow

import "fmt"

// Proof is a compact, self-contained certificate that a participant has
// seen a sufficiently strong chain. Proofs are immutable after
// construction and own their headers exclusively.
type Proof struct {
	M int // Superchain-density parameter.
	K int // Suffix length (stability parameter).

	Prefix []Header // Ordered, non-empty, anchored at genesis.
	Suffix []Header // Ordered, exactly K headers, contiguous after the prefix head.

	// SizeOpt is the byte length Decode measured, or nil if the proof was
	// constructed directly rather than decoded.
	SizeOpt *int
}

// New builds a Proof from its parts. It does not validate — call Validate
// before relying on any of the structural invariants.
func New(m, k int, prefix, suffix []Header) *Proof {
	return &Proof{
		M:      m,
		K:      k,
		Prefix: append([]Header(nil), prefix...),
		Suffix: append([]Header(nil), suffix...),
	}
}

// Validate performs the structural checks spec'd for a NiPoPoW proof, in
// order: suffix length, prefix density, and anchoring. It never retries and
// never blocks.
func (p *Proof) Validate() error {
	if len(p.Suffix) != p.K {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidSuffixLength, len(p.Suffix), p.K)
	}

	if len(p.Prefix) == 0 {
		return fmt.Errorf("%w: prefix is empty", ErrInvalidPrefixLength)
	}

	tail := p.Prefix[1:]
	groups := make(map[int]int, len(tail))
	for _, h := range tail {
		groups[MaxLevel(h)]++
	}
	for level, count := range groups {
		if count != p.M {
			return fmt.Errorf("%w: level %d has %d headers, want %d", ErrInvalidPrefixLength, level, count, p.M)
		}
	}

	headID := p.Prefix[0].ID()
	for i, h := range tail {
		links := h.Interlinks()
		if len(links) == 0 || links[0] != headID {
			return fmt.Errorf("%w: prefix[%d] does not anchor to prefix head", ErrChainNotAnchored, i+1)
		}
	}

	return nil
}
