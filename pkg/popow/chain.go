package popow

import "math/big"

// HeadersOfLevel returns the subsequence of chain whose headers have level
// ≥ mu, preserving order. The genesis header (InfinityLevel) always
// qualifies.
func HeadersOfLevel(chain []Header, mu int) []Header {
	out := make([]Header, 0, len(chain))
	for _, h := range chain {
		if MaxLevel(h) >= mu {
			out = append(out, h)
		}
	}
	return out
}

// LowestCommonAncestor returns the last header along which ordered chains a
// and b agree, starting from a shared genesis. Returns false if the chains
// do not share a head.
func LowestCommonAncestor(a, b []Header) (Header, bool) {
	if len(a) == 0 || len(b) == 0 || a[0].ID() != b[0].ID() {
		return Header{}, false
	}

	last := a[0]
	i := 1
	for i < len(a) && i < len(b) && a[i].ID() == b[i].ID() {
		last = a[i]
		i++
	}
	return last, true
}

// BestArg computes the proof-strength score of chain: the maximum, over
// every level μ whose filtered subchain has at least m headers, of
// 2^μ · |chain filtered to level ≥ μ|. The μ=0 candidate (2^0 · |chain|) is
// always available.
//
// The scan stops at the highest level any non-genesis header in chain
// actually reaches: beyond that, only the genesis sentinel can still
// qualify, so the filtered count is at most 1 and no higher level is scored.
func BestArg(chain []Header, m int) *big.Int {
	best := big.NewInt(int64(len(chain)))

	maxRealLevel := 0
	for _, h := range chain {
		if h.IsGenesis() {
			continue
		}
		if l := MaxLevel(h); l > maxRealLevel {
			maxRealLevel = l
		}
	}

	for mu := 1; mu <= maxRealLevel; mu++ {
		filtered := HeadersOfLevel(chain, mu)
		if len(filtered) < m {
			break
		}
		candidate := new(big.Int).Lsh(big.NewInt(int64(len(filtered))), uint(mu))
		if candidate.Cmp(best) > 0 {
			best = candidate
		}
	}
	return best
}
