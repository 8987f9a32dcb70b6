// Package wav adapts github.com/youpy/go-wav to the gapless decoder
// interface.
package wav

import (
	"fmt"
	"os"

	"github.com/drgolem/gapless/pkg/types"
	"github.com/youpy/go-wav"
)

// Decoder wraps go-wav for decoding WAV audio files.
type Decoder struct {
	file    *os.File
	reader  *wav.Reader
	fmt     types.SourceFormat
	total   int64
	current int64
}

// NewDecoder creates an unopened WAV decoder.
func NewDecoder() *Decoder {
	return &Decoder{total: -1}
}

// Open opens a WAV file for decoding.
func (d *Decoder) Open(fileName string) error {
	file, err := os.Open(fileName)
	if err != nil {
		return fmt.Errorf("failed to open WAV file: %w", err)
	}

	reader := wav.NewReader(file)
	format, err := reader.Format()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to read WAV format: %w", err)
	}

	if format.AudioFormat != wav.AudioFormatPCM {
		file.Close()
		return fmt.Errorf("unsupported WAV format: %d (only PCM supported): %w", format.AudioFormat, types.ErrFormatUnsupported)
	}

	d.file = file
	d.reader = reader
	d.fmt = types.SourceFormat{
		SampleRate:    int(format.SampleRate),
		Channels:      int(format.NumChannels),
		BitsPerSample: int(format.BitsPerSample),
	}

	if info, statErr := file.Stat(); statErr == nil {
		bytesPerFrame := int64(d.fmt.Channels) * int64(d.fmt.BitsPerSample/8)
		const headerEstimate = 44
		if bytesPerFrame > 0 && info.Size() > headerEstimate {
			// go-wav doesn't expose the data subchunk size directly;
			// this is a best-effort bound and EOF from ReadAudio is
			// authoritative.
			d.total = (info.Size() - headerEstimate) / bytesPerFrame
		}
	}

	return nil
}

// Close closes the WAV file.
func (d *Decoder) Close() error {
	if d.file != nil {
		err := d.file.Close()
		d.file = nil
		return err
	}
	return nil
}

// SourceFormat reports the WAV file's fixed format.
func (d *Decoder) SourceFormat() types.SourceFormat { return d.fmt }

// TotalFrames reports the estimated total frame count, or -1 if unknown.
func (d *Decoder) TotalFrames() int64 { return d.total }

// CurrentFrame reports the next frame ReadAudio will return.
func (d *Decoder) CurrentFrame() int64 { return d.current }

// SupportsSeeking is false: go-wav's Reader is forward-only.
func (d *Decoder) SupportsSeeking() bool { return false }

// SeekToFrame always fails; see SupportsSeeking.
func (d *Decoder) SeekToFrame(n int64) bool { return false }

// ReadAudio decodes up to frameCount frames of interleaved PCM into buf.
func (d *Decoder) ReadAudio(buf []byte, frameCount int) (int, error) {
	if d.reader == nil {
		return 0, fmt.Errorf("decoder not initialized")
	}

	bytesPerSample := d.fmt.BitsPerSample / 8
	channels := d.fmt.Channels
	total := 0

	for total < frameCount {
		samplesData, err := d.reader.ReadSamples(1)
		if err != nil || len(samplesData) == 0 {
			d.current += int64(total)
			return total, err
		}

		for ch := 0; ch < channels; ch++ {
			if ch >= len(samplesData[0].Values) {
				break
			}
			value := samplesData[0].Values[ch]
			offset := (total*channels + ch) * bytesPerSample
			if offset+bytesPerSample > len(buf) {
				d.current += int64(total)
				return total, nil
			}
			writeLittleEndian(buf[offset:offset+bytesPerSample], value, d.fmt.BitsPerSample)
		}

		total++
	}

	d.current += int64(total)
	return total, nil
}

func writeLittleEndian(dst []byte, value int, bitsPerSample int) {
	switch bitsPerSample {
	case 8:
		dst[0] = byte(value)
	case 16:
		dst[0] = byte(value)
		dst[1] = byte(value >> 8)
	case 24:
		dst[0] = byte(value)
		dst[1] = byte(value >> 8)
		dst[2] = byte(value >> 16)
	case 32:
		dst[0] = byte(value)
		dst[1] = byte(value >> 8)
		dst[2] = byte(value >> 16)
		dst[3] = byte(value >> 24)
	}
}
