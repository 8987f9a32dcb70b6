// Package stream adapts arbitrary packet-oriented audio sources
// (network streams, synthesized buffers) to the gapless decoder
// interface, for callers that have no file on disk to hand the
// extension-based factory.
package stream

import (
	"context"
	"sync"

	"github.com/drgolem/gapless/pkg/types"
)

// Format describes a streamed source's current PCM layout.
type Format struct {
	SampleRate     int
	Channels       int
	BytesPerSample int
}

// Packet is a chunk of decoded audio pulled from a PacketProvider.
type Packet struct {
	Audio        []byte
	SamplesCount int
	Format       Format
}

// PacketProvider is the interface for sources that hand back audio
// packets on demand: network streams, synthesizers, pipes.
type PacketProvider interface {
	// ReadAudioPacket reads the next audio packet. Returns io.EOF when
	// the stream ends.
	ReadAudioPacket(ctx context.Context, frames int) (*Packet, error)
}

// Decoder implements types.Decoder over a PacketProvider. Its total
// length is unknown, so TotalFrames always returns -1 and seeking is
// unsupported.
type Decoder struct {
	provider PacketProvider
	ctx      context.Context

	formatMx     sync.RWMutex
	format       Format
	formatChange chan Format

	current int64
}

// NewDecoder creates a decoder for a streaming audio source. ctx bounds
// every ReadAudioPacket call made through ReadAudio.
func NewDecoder(ctx context.Context, provider PacketProvider, initialFormat Format) *Decoder {
	return &Decoder{
		provider:     provider,
		ctx:          ctx,
		format:       initialFormat,
		formatChange: make(chan Format, 1),
	}
}

// Open is a no-op: the provider is already live when NewDecoder is called.
func (d *Decoder) Open(name string) error { return nil }

// Close is a no-op; the caller owns the provider's lifecycle.
func (d *Decoder) Close() error { return nil }

// SourceFormat reports the stream's current format, which may change
// mid-stream; watch FormatChanges for updates.
func (d *Decoder) SourceFormat() types.SourceFormat {
	d.formatMx.RLock()
	defer d.formatMx.RUnlock()
	return types.SourceFormat{
		SampleRate:    d.format.SampleRate,
		Channels:      d.format.Channels,
		BitsPerSample: d.format.BytesPerSample * 8,
	}
}

// TotalFrames is always unknown for a live stream.
func (d *Decoder) TotalFrames() int64 { return -1 }

// CurrentFrame reports the number of frames read so far.
func (d *Decoder) CurrentFrame() int64 { return d.current }

// SupportsSeeking is always false for a live stream.
func (d *Decoder) SupportsSeeking() bool { return false }

// SeekToFrame always fails.
func (d *Decoder) SeekToFrame(n int64) bool { return false }

// ReadAudio pulls one packet from the provider and copies it into buf.
func (d *Decoder) ReadAudio(buf []byte, frameCount int) (int, error) {
	pkt, err := d.provider.ReadAudioPacket(d.ctx, frameCount)
	if err != nil {
		return 0, err
	}
	if pkt.SamplesCount == 0 {
		return 0, nil
	}

	if d.formatChanged(pkt.Format) {
		d.formatMx.Lock()
		d.format = pkt.Format
		d.formatMx.Unlock()

		select {
		case d.formatChange <- pkt.Format:
		default:
		}
	}

	bytesToCopy := pkt.SamplesCount * pkt.Format.Channels * pkt.Format.BytesPerSample
	copy(buf, pkt.Audio[:bytesToCopy])

	d.current += int64(pkt.SamplesCount)
	return pkt.SamplesCount, nil
}

func (d *Decoder) formatChanged(newFormat Format) bool {
	d.formatMx.RLock()
	defer d.formatMx.RUnlock()
	return d.format != newFormat
}

// FormatChanges returns a channel that receives format change notifications.
func (d *Decoder) FormatChanges() <-chan Format {
	return d.formatChange
}
