// Package resample implements the sample-rate conversion stage of C7's
// converter chain: canonical-rate planar float64 frames in, device-rate
// planar float64 frames out, using the SoX resampler (SoXR) at its
// highest quality polyphase setting, as the spec's "wrapped system SRC's
// best-quality setting" requires.
//
// SoXR operates on interleaved integer PCM, so this package bridges
// canonical float64 through interleaved 16-bit PCM on the way in and
// back out. That bridging, and the cgo call into libsoxr itself, is the
// one documented allocation/cgo boundary inside the otherwise
// allocation-free render path (see DESIGN.md).
package resample

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"

	soxr "github.com/zaf/resample"
)

// Converter resamples canonical planar float64 audio from one sample
// rate to another. When the rates match it is a zero-cost identity
// pass-through, per §4.7's bypass policy.
type Converter struct {
	enabled  bool
	channels int

	resampler *soxr.Resampler
	outBuf    *bytes.Buffer
	bufWriter *bufio.Writer

	interleaved []int16
	rawBytes    []byte
	planarOut   [][]float64
}

// New constructs a Converter for channels planar channels, converting
// fromRate to toRate. If fromRate == toRate the returned Converter is a
// bypass and Convert returns its input unchanged.
func New(fromRate, toRate, channels int) (*Converter, error) {
	if fromRate <= 0 || toRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("resample: invalid parameters (fromRate=%d toRate=%d channels=%d)", fromRate, toRate, channels)
	}

	c := &Converter{channels: channels}
	if fromRate == toRate {
		return c, nil
	}

	c.outBuf = &bytes.Buffer{}
	c.bufWriter = bufio.NewWriter(c.outBuf)

	resampler, err := soxr.New(c.bufWriter, float64(fromRate), float64(toRate), channels, soxr.I16, soxr.HighQ)
	if err != nil {
		return nil, fmt.Errorf("resample: failed to create resampler: %w", err)
	}

	c.resampler = resampler
	c.enabled = true
	return c, nil
}

// Enabled reports whether this Converter actually resamples, or is a
// bypass because the rates already matched.
func (c *Converter) Enabled() bool { return c.enabled }

// Convert resamples frameCount frames of canonical planar float64 in
// and returns the resampled planar float64 output along with the
// number of output frames produced. When disabled it returns in
// unchanged. The returned slice is owned by the Converter and is
// invalidated by the next Convert call.
func (c *Converter) Convert(in [][]float64, frameCount int) ([][]float64, int, error) {
	if !c.enabled {
		return in, frameCount, nil
	}

	needed := frameCount * c.channels
	if cap(c.interleaved) < needed {
		c.interleaved = make([]int16, needed)
	}
	buf := c.interleaved[:needed]

	for i := 0; i < frameCount; i++ {
		for ch := 0; ch < c.channels; ch++ {
			buf[i*c.channels+ch] = floatToInt16(in[ch][i])
		}
	}

	if cap(c.rawBytes) < needed*2 {
		c.rawBytes = make([]byte, needed*2)
	}
	raw := c.rawBytes[:needed*2]
	for i, s := range buf {
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(s))
	}

	c.outBuf.Reset()
	if _, err := c.resampler.Write(raw); err != nil {
		return nil, 0, fmt.Errorf("resample: write failed: %w", err)
	}
	if err := c.bufWriter.Flush(); err != nil {
		return nil, 0, fmt.Errorf("resample: flush failed: %w", err)
	}

	out := c.outBuf.Bytes()
	outFrames := len(out) / (2 * c.channels)

	if len(c.planarOut) != c.channels {
		c.planarOut = make([][]float64, c.channels)
	}
	for ch := range c.planarOut {
		if cap(c.planarOut[ch]) < outFrames {
			c.planarOut[ch] = make([]float64, outFrames)
		} else {
			c.planarOut[ch] = c.planarOut[ch][:outFrames]
		}
	}

	for i := 0; i < outFrames; i++ {
		for ch := 0; ch < c.channels; ch++ {
			off := (i*c.channels + ch) * 2
			v := int16(binary.LittleEndian.Uint16(out[off:]))
			c.planarOut[ch][i] = float64(v) / 32768.0
		}
	}

	return c.planarOut, outFrames, nil
}

// Close releases the underlying resampler. A no-op on a bypass
// Converter.
func (c *Converter) Close() error {
	if !c.enabled {
		return nil
	}
	return c.resampler.Close()
}

func floatToInt16(v float64) int16 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return int16(v * 32767.0)
}
