package popow

import (
	"math/big"
	"testing"
)

func TestDecodeCompact(t *testing.T) {
	tests := []struct {
		name  string
		nBits uint32
		want  int64
	}{
		{"zero mantissa clamps to one", 0x00000000, 1},
		{"exponent below 3 shifts right", 0x01003456, 0x00},
		{"exponent three is mantissa itself", 0x03123456, 0x123456},
		{"exponent above three shifts left", 0x04123456, 0x12345600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeCompact(tt.nBits)
			want := big.NewInt(tt.want)
			if want.Sign() == 0 {
				want = big.NewInt(1)
			}
			if got.Cmp(want) != 0 {
				t.Fatalf("DecodeCompact(0x%08x) = %s, want %s", tt.nBits, got, want)
			}
		})
	}
}

func TestRequiredTarget_DividesQ(t *testing.T) {
	target := RequiredTarget(0x04123456)
	diff := DecodeCompact(0x04123456)
	want := new(big.Int).Div(Q, diff)
	if target.Cmp(want) != 0 {
		t.Fatalf("RequiredTarget = %s, want %s", target, want)
	}
}
