package popow

import "errors"

// Validation and decoding error kinds. Callers use errors.Is to switch on
// kind; these are never retried inside the package.
var (
	// ErrMalformedProof means decoding failed: short buffer, bad counts,
	// bad header bytes, or trailing garbage.
	ErrMalformedProof = errors.New("popow: malformed proof")

	// ErrInvalidSuffixLength means |suffix| != k.
	ErrInvalidSuffixLength = errors.New("popow: invalid suffix length")

	// ErrInvalidPrefixLength means some prefix-tail level group does not
	// have exactly m headers.
	ErrInvalidPrefixLength = errors.New("popow: invalid prefix length")

	// ErrChainNotAnchored means some prefix-tail header's first interlink
	// entry does not point at the prefix head.
	ErrChainNotAnchored = errors.New("popow: chain not anchored")

	// ErrWeakSuperChain means the super-chain quality test failed.
	ErrWeakSuperChain = errors.New("popow: weak super-chain quality")

	// ErrWeakMultiLevel means the multi-level quality test failed.
	ErrWeakMultiLevel = errors.New("popow: weak multi-level quality")
)
