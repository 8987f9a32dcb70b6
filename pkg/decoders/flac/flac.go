// Package flac adapts github.com/drgolem/go-flac to the gapless decoder
// interface.
package flac

import (
	"fmt"
	"io"

	goflac "github.com/drgolem/go-flac/flac"
	"github.com/drgolem/gapless/pkg/types"
)

// outputBitDepth is the PCM depth go-flac decodes into. Canonical
// conversion in decoderstate only needs to know this value to unpack
// the bytes correctly, so it is not configurable per-file.
const outputBitDepth = 16

// Decoder wraps github.com/drgolem/go-flac for decoding FLAC files.
type Decoder struct {
	decoder *goflac.FlacDecoder
	fmt     types.SourceFormat
}

// NewDecoder creates an unopened FLAC decoder that decodes to 16-bit PCM.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Open opens and initializes a FLAC file for decoding.
func (d *Decoder) Open(fileName string) error {
	decoder, err := goflac.NewFlacFrameDecoder(outputBitDepth)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Open(fileName); err != nil {
		decoder.Delete()
		return fmt.Errorf("failed to open file %s: %w", fileName, err)
	}

	rate, channels, bps := decoder.GetFormat()
	d.decoder = decoder
	d.fmt = types.SourceFormat{SampleRate: rate, Channels: channels, BitsPerSample: bps}
	return nil
}

// Close closes the decoder and releases its cgo resources.
func (d *Decoder) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
		d.decoder.Delete()
		d.decoder = nil
	}
	return nil
}

// SourceFormat reports the FLAC stream's fixed format.
func (d *Decoder) SourceFormat() types.SourceFormat { return d.fmt }

// TotalFrames reports the stream's total sample count.
func (d *Decoder) TotalFrames() int64 {
	if d.decoder == nil {
		return -1
	}
	return d.decoder.TotalSamples()
}

// CurrentFrame reports the next frame ReadAudio will return.
func (d *Decoder) CurrentFrame() int64 {
	if d.decoder == nil {
		return 0
	}
	return d.decoder.TellCurrentSample()
}

// SupportsSeeking reports true: go-flac seeks on the underlying stream
// decoder directly.
func (d *Decoder) SupportsSeeking() bool { return true }

// SeekToFrame seeks to an absolute sample position.
func (d *Decoder) SeekToFrame(n int64) bool {
	if d.decoder == nil {
		return false
	}
	_, err := d.decoder.Seek(n, io.SeekStart)
	return err == nil
}

// ReadAudio decodes up to frameCount frames of interleaved PCM into buf.
func (d *Decoder) ReadAudio(buf []byte, frameCount int) (int, error) {
	if d.decoder == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}
	n, err := d.decoder.DecodeSamples(frameCount, buf)
	if err == io.EOF {
		err = nil
	}
	return n, err
}
