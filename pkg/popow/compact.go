package popow

import "math/big"

// Q is the chain's base target constant used for level computations
// (T_required = Q / DecodeCompact(nBits)), the 256-bit hash-space ceiling.
// It mirrors the maxUint256 constant internal/consensus/pow.go uses for its
// own target math.
var Q = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// DecodeCompact decodes a Bitcoin-style compact difficulty representation
// (1-byte exponent, 3-byte mantissa) into the unsigned integer it encodes.
// A zero result is clamped to 1 so RequiredTarget never divides by zero.
func DecodeCompact(nBits uint32) *big.Int {
	exponent := nBits >> 24
	mantissa := nBits & 0x007fffff

	result := new(big.Int).SetUint64(uint64(mantissa))
	switch {
	case exponent <= 3:
		shift := 8 * (3 - exponent)
		result.Rsh(result, uint(shift))
	default:
		shift := 8 * (exponent - 3)
		result.Lsh(result, uint(shift))
	}

	if result.Sign() <= 0 {
		return big.NewInt(1)
	}
	return result
}

// RequiredTarget returns T_required = Q / DecodeCompact(nBits), the target
// threshold a header's PoW distance is measured against.
func RequiredTarget(nBits uint32) *big.Int {
	return new(big.Int).Div(Q, DecodeCompact(nBits))
}
