package pcmconv

import (
	"encoding/binary"
	"testing"
)

func TestInt16ConvertRoundTrips(t *testing.T) {
	c := NewInt16(2)
	canonical := [][]float64{
		{0, 0.5, -1, 1},
		{-0.5, 0, 1, -1},
	}
	out := make([]byte, 4*c.BytesPerFrame())
	c.Convert(canonical, out, 4)

	for i := 0; i < 4; i++ {
		for ch := 0; ch < 2; ch++ {
			off := (i*2 + ch) * 2
			got := int16(binary.LittleEndian.Uint16(out[off:]))
			want := int16(clamp(canonical[ch][i]) * 32767.0)
			if got != want {
				t.Errorf("frame %d ch %d: got %d, want %d", i, ch, got, want)
			}
		}
	}
}

func TestInt16ConvertClampsOutOfRange(t *testing.T) {
	c := NewInt16(1)
	out := make([]byte, c.BytesPerFrame())
	c.Convert([][]float64{{2.0}}, out, 1)
	got := int16(binary.LittleEndian.Uint16(out))
	if got != 32767 {
		t.Fatalf("expected clamp to max int16, got %d", got)
	}

	c.Convert([][]float64{{-3.0}}, out, 1)
	got = int16(binary.LittleEndian.Uint16(out))
	if got != -32767 {
		t.Fatalf("expected clamp to -32767, got %d", got)
	}
}

func TestInt24And32BytesPerFrame(t *testing.T) {
	if NewInt24(2).BytesPerFrame() != 6 {
		t.Fatal("Int24 stereo should be 6 bytes per frame")
	}
	if NewInt32(2).BytesPerFrame() != 8 {
		t.Fatal("Int32 stereo should be 8 bytes per frame")
	}
}

func TestForBitDepthUnsupported(t *testing.T) {
	if _, err := ForBitDepth(12, 2); err == nil {
		t.Fatal("expected error for unsupported bit depth")
	}
}
