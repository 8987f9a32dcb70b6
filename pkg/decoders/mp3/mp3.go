// Package mp3 adapts github.com/imcarsen/go-mp3 to the gapless decoder
// interface. go-mp3 always decodes to interleaved 16-bit stereo PCM.
package mp3

import (
	"fmt"
	"io"
	"os"

	"github.com/drgolem/gapless/pkg/types"
	"github.com/imcarsen/go-mp3"
)

const (
	mp3Channels      = 2
	mp3BitsPerSample = 16
	bytesPerFrame    = mp3Channels * (mp3BitsPerSample / 8)
)

// Decoder wraps go-mp3 for decoding MP3 files.
type Decoder struct {
	file    *os.File
	decoder *mp3.Decoder
	fmt     types.SourceFormat
	total   int64
}

// NewDecoder creates an unopened MP3 decoder.
func NewDecoder() *Decoder {
	return &Decoder{total: -1}
}

// Open opens and initializes an MP3 file for decoding.
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", fileName, err)
	}

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	d.file = file
	d.decoder = decoder
	d.fmt = types.SourceFormat{
		SampleRate:    decoder.SampleRate(),
		Channels:      mp3Channels,
		BitsPerSample: mp3BitsPerSample,
	}

	if length := decoder.Length(); length > 0 {
		d.total = length / bytesPerFrame
	}

	return nil
}

// Close closes the decoder and the underlying file.
func (d *Decoder) Close() error {
	d.decoder = nil
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		return err
	}
	return nil
}

// SourceFormat reports the decoded PCM format, always stereo 16-bit.
func (d *Decoder) SourceFormat() types.SourceFormat { return d.fmt }

// TotalFrames reports the total frame count, or -1 if the source isn't seekable.
func (d *Decoder) TotalFrames() int64 { return d.total }

// CurrentFrame reports the next frame ReadAudio will return.
func (d *Decoder) CurrentFrame() int64 {
	if d.decoder == nil {
		return 0
	}
	return d.decoder.SamplePosition()
}

// SupportsSeeking reports whether the underlying file is seekable, which
// go-mp3 requires for sample-accurate seeking.
func (d *Decoder) SupportsSeeking() bool { return d.total >= 0 }

// SeekToFrame seeks to an absolute sample position.
func (d *Decoder) SeekToFrame(n int64) bool {
	if d.decoder == nil {
		return false
	}
	return d.decoder.SeekToSample(n) == nil
}

// ReadAudio decodes up to frameCount frames of interleaved 16-bit PCM into buf.
func (d *Decoder) ReadAudio(buf []byte, frameCount int) (int, error) {
	if d.decoder == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	needed := frameCount * bytesPerFrame
	if needed > len(buf) {
		needed = len(buf) - (len(buf) % bytesPerFrame)
	}

	read := 0
	for read < needed {
		n, err := d.decoder.Read(buf[read:needed])
		read += n
		if err != nil {
			if err == io.EOF {
				break
			}
			return read / bytesPerFrame, err
		}
		if n == 0 {
			break
		}
	}

	return read / bytesPerFrame, nil
}
