package popow

// IsBetterThan decides whether p is strictly better than other. It finds
// the lowest common ancestor of the two prefixes, restricts both prefixes
// to the headers above it (falling back to the full prefixes if they share
// no ancestor), and compares best-arg scores. Ties favor the incumbent
// (other), so this is irreflexive and antisymmetric.
func (p *Proof) IsBetterThan(other *Proof) bool {
	ours, theirs := p.Prefix, other.Prefix

	if lca, ok := LowestCommonAncestor(p.Prefix, other.Prefix); ok {
		ours = above(p.Prefix, lca.Height())
		theirs = above(other.Prefix, lca.Height())
	}

	return BestArg(ours, p.M).Cmp(BestArg(theirs, other.M)) > 0
}

func above(chain []Header, height uint64) []Header {
	out := make([]Header, 0, len(chain))
	for _, h := range chain {
		if h.Height() > height {
			out = append(out, h)
		}
	}
	return out
}
