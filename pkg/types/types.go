// Package types holds the interfaces and error kinds shared across the
// gapless playback engine: the Decoder boundary, the PCM converter
// boundary, and the controller's error-reporting vocabulary.
package types

import (
	"errors"
	"time"
)

// SourceFormat describes the format a Decoder produces. It is fixed for
// the lifetime of a single Decoder; a decoder that needs to change format
// mid-stream must be closed and replaced with a newly enqueued one.
type SourceFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int // 8, 16, 24, or 32
}

// Decoder is the interface consumed by the decode thread (C3). It wraps
// an opaque, finite, non-restartable source of interleaved integer PCM
// frames. Seeking is the only way to move backward in the stream.
type Decoder interface {
	// Open prepares the decoder to produce frames. Name is a source
	// identifier (typically a file path); decoders backed by a
	// pre-opened stream may ignore it.
	Open(name string) error

	// Close releases decoder resources. Safe to call multiple times.
	Close() error

	// SourceFormat reports the fixed format of frames this decoder
	// produces.
	SourceFormat() SourceFormat

	// TotalFrames reports the total frame count of the source, or -1
	// if unknown (e.g. a live stream).
	TotalFrames() int64

	// CurrentFrame reports the next frame index ReadAudio will return.
	CurrentFrame() int64

	// SupportsSeeking reports whether SeekToFrame is meaningful for
	// this decoder.
	SupportsSeeking() bool

	// SeekToFrame repositions the decoder so the next ReadAudio call
	// returns frame n. Returns false if seeking is unsupported or the
	// target is out of range.
	SeekToFrame(n int64) bool

	// ReadAudio decodes up to frameCount frames of interleaved PCM
	// into buf, sized to hold frameCount * channels * bytesPerSample
	// bytes. Returns the number of frames actually decoded; a return
	// of 0 frames, with or without an error, signals source
	// exhaustion.
	ReadAudio(buf []byte, frameCount int) (int, error)
}

// PCMConverter is a pure function from a canonical, deinterleaved
// float64 frame span to a fixed destination bit layout. Implementations
// must not allocate per call and must be safe to invoke from the
// realtime render callback.
type PCMConverter interface {
	// Convert writes frameCount frames from canonical (one []float64
	// per channel, normalized to [-1, +1)) into out as interleaved
	// bytes in the converter's target format. out must be at least
	// frameCount * BytesPerFrame() bytes.
	Convert(canonical [][]float64, out []byte, frameCount int)

	// BytesPerFrame reports the number of output bytes one frame
	// occupies, used by callers to size out.
	BytesPerFrame() int
}

// Sentinel error kinds. Controller operations return errors wrapping one
// of these via %w so callers can branch with errors.Is.
var (
	ErrFormatUnsupported = errors.New("gapless: format unsupported")
	ErrDeviceUnavailable = errors.New("gapless: device unavailable")
	ErrDeviceBusy        = errors.New("gapless: device busy")
	ErrStreamUnsupported = errors.New("gapless: stream unsupported")
	ErrDecoderFailed     = errors.New("gapless: decoder failed")
	ErrSeekUnsupported   = errors.New("gapless: seek unsupported")
	ErrTimeout           = errors.New("gapless: timeout")
	ErrInvalidArgument   = errors.New("gapless: invalid argument")
	ErrNotPlaying        = errors.New("gapless: not playing")
	ErrFatalInternal     = errors.New("gapless: fatal internal error")
)

// Ring buffer error values, re-exported by pkg/ringbuffer for
// comparison with errors.Is(). RingBuffer.Write and Read do not return
// them: short transfers are reported through their frame counts.
var (
	// ErrInsufficientSpace indicates the ringbuffer doesn't have enough space for the write operation
	ErrInsufficientSpace = errors.New("insufficient space in ringbuffer")

	// ErrInsufficientData indicates the ringbuffer doesn't have enough data for the read operation
	ErrInsufficientData = errors.New("insufficient data in ringbuffer")
)

// PlaybackStatus holds a snapshot of engine playback state for monitoring
// and CLI status reporting.
type PlaybackStatus struct {
	PlayingURL      string
	SampleRate      int
	Channels        int
	BitsPerSample   int
	CurrentFrame    int64
	TotalFrames     int64
	CurrentTime     time.Duration
	TotalTime       time.Duration
	IsPlaying       bool
	BufferAvailable uint64
	BufferCapacity  uint64
	OutputUnderruns uint64
}

// PlaybackMonitor is implemented by types that can report PlaybackStatus,
// matching the teacher's monitor pattern for status-polling CLI commands.
type PlaybackMonitor interface {
	GetPlaybackStatus() PlaybackStatus
}

// DiagnosticEvent is delivered asynchronously (never synchronously from
// the render or decode threads) for conditions a caller may want to log
// or surface without blocking the realtime path.
type DiagnosticEvent struct {
	Kind      error
	Message   string
	SourceURL string
	Frame     int64
}

// DiagnosticHandler receives DiagnosticEvents. The engine calls it on a
// goroutine of its own for each event. Implementations must not block.
type DiagnosticHandler func(DiagnosticEvent)
