package popow

import "math"

// downChain returns the segment of full between the first and last headers
// of super (inclusive), located by header identifier rather than by value
// equality (see spec design notes on avoiding whole-header comparison).
func downChain(full, super []Header) []Header {
	if len(super) == 0 {
		return nil
	}
	firstID := super[0].ID()
	lastID := super[len(super)-1].ID()

	start, end := -1, -1
	for i, h := range full {
		if start == -1 && h.ID() == firstID {
			start = i
		}
		if h.ID() == lastID {
			end = i
		}
	}
	if start == -1 || end == -1 || end < start {
		return nil
	}
	return full[start : end+1]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// GoodSuperchain is the richer, advisory test described in spec §4.5: it
// holds iff both the super-chain quality and multi-level quality
// predicates hold for superChain = HeadersOfLevel(full, level) against
// full. It is not part of structural Validate and is meant to be applied
// by higher-level consumers deciding acceptance.
func GoodSuperchain(full, superChain []Header, level int, params Params) bool {
	return superChainQuality(full, superChain, level, params) && multiLevelQuality(full, superChain, level, params)
}

func superChainQuality(full, superChain []Header, level int, params Params) bool {
	down := downChain(full, superChain)

	for mPrime := params.M; mPrime < len(full); mPrime++ {
		s := minInt(len(superChain), mPrime)
		dPrime := minInt(len(down), mPrime)
		threshold := (1 - params.Delta) * math.Pow(2, float64(-level)) * float64(dPrime)
		if !(float64(s) > threshold) {
			return false
		}
	}
	return true
}

func multiLevelQuality(full, superChain []Header, level int, params Params) bool {
	down := downChain(full, superChain)

	for muPrime := 1; muPrime <= level; muPrime++ {
		cStar := HeadersOfLevel(down, muPrime-1)
		u := len(HeadersOfLevel(cStar, muPrime))
		if u < params.K1 {
			continue
		}
		need := (1 - params.Delta) * math.Pow(2, float64(level-muPrime)) * float64(u)
		actual := len(HeadersOfLevel(cStar, level))
		if !(float64(actual) >= need) {
			return false
		}
	}
	return true
}
