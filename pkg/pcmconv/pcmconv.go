// Package pcmconv implements C8: pure, allocation-free functions that
// convert canonical deinterleaved float64 frames into the interleaved
// integer PCM layouts the render callback writes into PortAudio's
// output buffer. The bit-packing follows the same little-endian layout
// the teacher's WAV decoder reads.
package pcmconv

import (
	"github.com/drgolem/gapless/pkg/types"
)

// Int16 converts canonical samples to signed 16-bit little-endian PCM.
type Int16 struct {
	channels int
}

// NewInt16 returns a converter for the given channel count.
func NewInt16(channels int) *Int16 { return &Int16{channels: channels} }

func (c *Int16) BytesPerFrame() int { return c.channels * 2 }

func (c *Int16) Convert(canonical [][]float64, out []byte, frameCount int) {
	for i := 0; i < frameCount; i++ {
		for ch := 0; ch < c.channels; ch++ {
			v := clamp(canonical[ch][i]) * 32767.0
			s := int16(v)
			off := (i*c.channels + ch) * 2
			out[off] = byte(s)
			out[off+1] = byte(s >> 8)
		}
	}
}

// Int24 converts canonical samples to signed 24-bit little-endian PCM.
type Int24 struct {
	channels int
}

func NewInt24(channels int) *Int24 { return &Int24{channels: channels} }

func (c *Int24) BytesPerFrame() int { return c.channels * 3 }

func (c *Int24) Convert(canonical [][]float64, out []byte, frameCount int) {
	for i := 0; i < frameCount; i++ {
		for ch := 0; ch < c.channels; ch++ {
			v := clamp(canonical[ch][i]) * 8388607.0
			s := int32(v)
			off := (i*c.channels + ch) * 3
			out[off] = byte(s)
			out[off+1] = byte(s >> 8)
			out[off+2] = byte(s >> 16)
		}
	}
}

// Int32 converts canonical samples to signed 32-bit little-endian PCM.
type Int32 struct {
	channels int
}

func NewInt32(channels int) *Int32 { return &Int32{channels: channels} }

func (c *Int32) BytesPerFrame() int { return c.channels * 4 }

func (c *Int32) Convert(canonical [][]float64, out []byte, frameCount int) {
	for i := 0; i < frameCount; i++ {
		for ch := 0; ch < c.channels; ch++ {
			v := clamp(canonical[ch][i]) * 2147483647.0
			s := int32(v)
			off := (i*c.channels + ch) * 4
			out[off] = byte(s)
			out[off+1] = byte(s >> 8)
			out[off+2] = byte(s >> 16)
			out[off+3] = byte(s >> 24)
		}
	}
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// ForBitDepth selects a concrete converter for the device's final bit
// layout, mirroring the teacher's bit-depth switch in
// pkg/audioplayer/player.go's initStream.
func ForBitDepth(bitsPerSample, channels int) (types.PCMConverter, error) {
	switch bitsPerSample {
	case 16:
		return NewInt16(channels), nil
	case 24:
		return NewInt24(channels), nil
	case 32:
		return NewInt32(channels), nil
	default:
		return nil, types.ErrFormatUnsupported
	}
}
