// Package synth provides a synthetic sine-wave decoder implementing the
// gapless decoder interface, used to exercise join and ordering
// behavior without depending on a fixture audio file.
package synth

import (
	"encoding/binary"
	"math"

	"github.com/drgolem/gapless/pkg/types"
)

// Decoder generates a fixed-frequency sine wave as 16-bit mono PCM.
type Decoder struct {
	freq       float64
	sampleRate int
	totalFrames int64
	current    int64
	amplitude  float64
}

// NewDecoder creates a sine-wave decoder at freqHz, sampled at
// sampleRate, running for durationFrames frames (or forever if
// durationFrames < 0).
func NewDecoder(freqHz float64, sampleRate int, durationFrames int64) *Decoder {
	return &Decoder{
		freq:        freqHz,
		sampleRate:  sampleRate,
		totalFrames: durationFrames,
		amplitude:   0.5,
	}
}

// Open is a no-op: the tone parameters are fixed at construction.
func (d *Decoder) Open(name string) error { return nil }

// Close is a no-op.
func (d *Decoder) Close() error { return nil }

// SourceFormat reports mono 16-bit PCM at the configured sample rate.
func (d *Decoder) SourceFormat() types.SourceFormat {
	return types.SourceFormat{SampleRate: d.sampleRate, Channels: 1, BitsPerSample: 16}
}

// TotalFrames reports the configured duration, or -1 if unbounded.
func (d *Decoder) TotalFrames() int64 { return d.totalFrames }

// CurrentFrame reports the next frame ReadAudio will return.
func (d *Decoder) CurrentFrame() int64 { return d.current }

// SupportsSeeking reports true: the waveform is stateless given a phase.
func (d *Decoder) SupportsSeeking() bool { return true }

// SeekToFrame jumps the phase to frame n. It fails for a negative n, or
// for an n past the configured duration.
func (d *Decoder) SeekToFrame(n int64) bool {
	if n < 0 || (d.totalFrames >= 0 && n > d.totalFrames) {
		return false
	}
	d.current = n
	return true
}

// ReadAudio synthesizes up to frameCount frames of 16-bit mono PCM.
func (d *Decoder) ReadAudio(buf []byte, frameCount int) (int, error) {
	n := frameCount
	if d.totalFrames >= 0 {
		remaining := d.totalFrames - d.current
		if remaining <= 0 {
			return 0, nil
		}
		if int64(n) > remaining {
			n = int(remaining)
		}
	}
	if n*2 > len(buf) {
		n = len(buf) / 2
	}

	for i := 0; i < n; i++ {
		t := float64(d.current+int64(i)) / float64(d.sampleRate)
		v := d.amplitude * math.Sin(2*math.Pi*d.freq*t)
		s := int16(v * 32767.0)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	d.current += int64(n)
	return n, nil
}
