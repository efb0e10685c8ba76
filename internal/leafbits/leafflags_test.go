package leafbits

import "testing"

func TestPackLeafFlagsRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		flags LeafFlags
	}{
		{"free order 0", LeafFlags{InUse: false, Order: 0}},
		{"in use order 5", LeafFlags{InUse: true, Order: 5}},
		{"free max order", LeafFlags{InUse: false, Order: MaxOrder}},
		{"in use max order", LeafFlags{InUse: true, Order: MaxOrder}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			packed, err := PackLeafFlags(tc.flags)
			if err != nil {
				t.Fatalf("PackLeafFlags: %v", err)
			}
			got := UnpackLeafFlags(packed)
			if got != tc.flags {
				t.Errorf("round trip mismatch: got %+v, want %+v", got, tc.flags)
			}
		})
	}
}

func TestPackLeafFlagsOverflow(t *testing.T) {
	_, err := PackLeafFlags(LeafFlags{Order: MaxOrder + 1})
	if err == nil {
		t.Fatal("expected error packing order beyond 5 bits")
	}
}
