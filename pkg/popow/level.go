package popow

import "math/big"

// InfinityLevel is the sentinel level assigned to the genesis header, which
// participates in every superchain. It deliberately stays far below
// math.MaxInt64: level arithmetic elsewhere in this package (BestArg,
// HeadersOfLevel) never needs genesis to out-rank a real header by more
// than any attainable nBits target allows, and keeping it in int32 range
// avoids accidental overflow when a caller shifts 2^level.
const InfinityLevel = 1<<31 - 1

// MaxLevel returns the largest non-negative integer μ such that the
// header's PoW distance d satisfies d·2^μ ≤ T_required, where T_required
// is derived from the header's nBits. The genesis header returns
// InfinityLevel.
func MaxLevel(h Header) int {
	if h.IsGenesis() {
		return InfinityLevel
	}

	t := RequiredTarget(h.NBits())
	d := h.Distance()
	if d.Sign() <= 0 {
		// No valid PoW header has a non-positive distance; clamp per spec §4.2.
		return 0
	}
	if d.Cmp(t) > 0 {
		// d alone already exceeds the target: header does not reach level 0.
		return 0
	}

	// Largest μ with d·2^μ ≤ t, found by binary search over the bounded
	// range [0, t.BitLen()].
	lo, hi := 0, t.BitLen()
	shifted := new(big.Int)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		shifted.Lsh(d, uint(mid))
		if shifted.Cmp(t) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
