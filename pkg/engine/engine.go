// Package engine implements the gapless playback engine: a decode
// thread and a realtime render callback connected by a lock-free ring
// buffer, coordinated by a controller that serializes play/pause/stop,
// seek, enqueue, and format-change operations.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/gapless/pkg/decoderstate"
	"github.com/drgolem/gapless/pkg/device"
	"github.com/drgolem/gapless/pkg/ringbuffer"
	"github.com/drgolem/gapless/pkg/types"
)

// decodeChunkFrames is the number of source frames the decode thread
// pulls per iteration when the ring has room.
const decodeChunkFrames = 4096

// decodeWaitTimeout bounds how long the decode thread sleeps between
// polls of the queue and active array, keeping it responsive to
// shutdown and new enqueues without busy-waiting.
const decodeWaitTimeout = 20 * time.Millisecond

// collectWaitTimeout bounds the collector's idle poll interval.
const collectWaitTimeout = 100 * time.Millisecond

// seekDrainTimeout bounds how long Seek waits for the decode thread to
// finish a pending seek request before giving up.
const seekDrainTimeout = 2 * time.Second

// Config configures a new Engine.
type Config struct {
	// ChannelCount and CanonicalSampleRate fix the ring buffer's
	// internal format. Enqueued decoders are converted to planar
	// float64 as they are decoded, but are neither resampled nor mixed
	// down: the channel count must match exactly (see Enqueue), and a
	// decoder's sample rate is not checked against CanonicalSampleRate.
	ChannelCount        int
	CanonicalSampleRate int

	// RingCapacityFrames is rounded up to the next power of two.
	RingCapacityFrames uint64

	// FramesPerPacket bounds the decode-side scratch buffer size.
	FramesPerPacket int

	// DeviceIndex selects the PortAudio output device.
	DeviceIndex int

	// FramesPerBuffer is the PortAudio callback block size.
	FramesPerBuffer int

	// OutputBitsPerSample is the device stream's initial bit depth.
	OutputBitsPerSample int

	// Diagnostics receives decoder-failure events, each delivered on
	// its own goroutine. No device-interruption event is emitted. May
	// be nil.
	Diagnostics types.DiagnosticHandler
}

// DefaultConfig returns sensible defaults for stereo playback at CD
// quality with a ring buffer of 262144 frames (about six seconds at
// 44.1 kHz).
func DefaultConfig() Config {
	return Config{
		ChannelCount:        2,
		CanonicalSampleRate: 44100,
		RingCapacityFrames:  1 << 18,
		FramesPerPacket:     decodeChunkFrames,
		DeviceIndex:         1,
		FramesPerBuffer:     512,
		OutputBitsPerSample: 16,
	}
}

// Engine is the gapless playback engine (C5's controller plus the
// threads it supervises).
type Engine struct {
	cfg Config

	mu    sync.Mutex
	queue []types.Decoder

	active decoderstate.ActiveDecoders
	ring   *ringbuffer.RingBuffer
	output *device.Output

	decoderSem   chan struct{}
	collectorSem chan struct{}
	stopCh       chan struct{}
	wg           sync.WaitGroup

	keepDecoding atomic.Bool
	isSeeking    atomic.Bool
	muteOutput   atomic.Bool
	playing      atomic.Bool

	masterVolume  atomic.Uint64 // float64 bits, default 1.0
	channelVolume []atomic.Uint64
	currentURL    atomic.Pointer[string]

	// renderOrderBuf is scratch space for the render callback's
	// timeStamp-ordered walk of active decoders; reused every callback
	// invocation so the realtime path never allocates.
	renderOrderBuf [decoderstate.KActiveDecoderArraySize]*decoderstate.State

	diagnostics types.DiagnosticHandler
}

// New constructs an Engine and opens the output device, but does not
// start playback; call Play after Enqueue.
func New(cfg Config) (*Engine, error) {
	if cfg.ChannelCount <= 0 || cfg.CanonicalSampleRate <= 0 {
		return nil, fmt.Errorf("invalid engine configuration: %w", types.ErrInvalidArgument)
	}
	if cfg.FramesPerPacket <= 0 {
		cfg.FramesPerPacket = decodeChunkFrames
	}

	e := &Engine{
		cfg:          cfg,
		ring:         ringbuffer.New(cfg.ChannelCount, cfg.RingCapacityFrames),
		decoderSem:   make(chan struct{}, 1),
		collectorSem: make(chan struct{}, 1),
		diagnostics:  cfg.Diagnostics,
	}
	e.masterVolume.Store(math.Float64bits(1.0))
	e.channelVolume = make([]atomic.Uint64, cfg.ChannelCount)
	for i := range e.channelVolume {
		e.channelVolume[i].Store(math.Float64bits(1.0))
	}

	e.output = device.NewOutput(cfg.DeviceIndex, cfg.FramesPerBuffer, cfg.CanonicalSampleRate, e.renderFrames)
	if err := e.output.Open(device.Format{
		SampleRate:    cfg.CanonicalSampleRate,
		Channels:      cfg.ChannelCount,
		BitsPerSample: cfg.OutputBitsPerSample,
	}); err != nil {
		return nil, fmt.Errorf("failed to open output device: %w", err)
	}

	e.keepDecoding.Store(true)
	e.stopCh = make(chan struct{})
	e.wg.Add(2)
	go e.decodeLoop()
	go e.collectLoop()

	return e, nil
}

// Close stops playback and tears down the worker threads and device.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.keepDecoding.Store(false)
	close(e.stopCh)
	e.wakeDecoder()
	e.wakeCollector()
	e.wg.Wait()

	return e.output.Close()
}

// Play starts device I/O; decoded audio already queued begins playing.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.output.Start(); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	e.playing.Store(true)
	e.wakeDecoder()
	return nil
}

// Pause stops device I/O while preserving all decode and ring state.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playing.Load() {
		return nil
	}
	if err := e.output.Stop(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	e.playing.Store(false)
	return nil
}

// Stop halts playback, cancels every active decoder, and resets the
// ring buffer and frame counters to zero.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.output.Stop(); err != nil {
		slog.Warn("failed to stop output during Stop", "error", err)
	}
	e.playing.Store(false)

	// With the device stopped, renderFrames will never run again to set
	// RenderingFinished on these decoders, so mark it here directly
	// rather than waiting on a callback that's already been told to
	// stop.
	for i := 0; i < e.active.Len(); i++ {
		if st := e.active.At(i); st != nil {
			st.SetFlag(decoderstate.CancelDecoding | decoderstate.DecodingFinished | decoderstate.RenderingFinished)
		}
	}
	e.queue = nil
	e.collectFinished()

	e.ring.Reset()
	e.currentURL.Store(nil)

	return nil
}

// Enqueue appends decoder to the playback queue and wakes the decode
// thread. decoder's channel count must match the engine's configured
// canonical channel count.
func (e *Engine) Enqueue(decoder types.Decoder, sourceName string) error {
	srcFormat := decoder.SourceFormat()
	if srcFormat.Channels != e.cfg.ChannelCount {
		return fmt.Errorf("decoder has %d channels, engine configured for %d: %w", srcFormat.Channels, e.cfg.ChannelCount, types.ErrFormatUnsupported)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.queue = append(e.queue, decoder)
	if e.currentURL.Load() == nil {
		name := sourceName
		e.currentURL.Store(&name)
	}
	e.wakeDecoder()
	return nil
}

// Seek repositions the current decoder to frame n. It fails if there is
// no current decoder, or the decoder does not support seeking.
func (e *Engine) Seek(frame int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, _ := e.active.CurrentDecoding()
	if st == nil {
		st, _ = e.active.InOrderCurrent()
	}
	if st == nil {
		return types.ErrNotPlaying
	}
	if !st.Decoder.SupportsSeeking() {
		return types.ErrSeekUnsupported
	}

	e.isSeeking.Store(true)
	e.muteOutput.Store(true)
	generation := st.SeekGeneration()
	st.RequestSeek(frame)
	e.wakeDecoder()

	// Wait for performSeek to actually finish, not merely for the
	// decode thread to claim the request: ClaimSeek clears the pending
	// flag the instant it's picked up, well before the ring has been
	// reset and refilled past the seek target.
	deadline := time.Now().Add(seekDrainTimeout)
	for st.SeekGeneration() == generation {
		if time.Now().After(deadline) {
			e.isSeeking.Store(false)
			e.muteOutput.Store(false)
			return types.ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}

	e.isSeeking.Store(false)
	e.muteOutput.Store(false)
	return nil
}

// SetMasterVolume updates the atomic master volume scalar the render
// callback applies in the canonical domain.
func (e *Engine) SetMasterVolume(v float64) {
	e.masterVolume.Store(math.Float64bits(v))
}

// SetChannelVolume updates the per-channel volume scalar for channel ch.
func (e *Engine) SetChannelVolume(ch int, v float64) error {
	if ch < 0 || ch >= len(e.channelVolume) {
		return types.ErrInvalidArgument
	}
	e.channelVolume[ch].Store(math.Float64bits(v))
	return nil
}

// SetOutputDevice stops the device, reopens it on the new index at the
// current format, and restarts it if it had been playing.
func (e *Engine) SetOutputDevice(deviceIndex int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasPlaying := e.playing.Load()
	format := e.output.Format()

	if err := e.output.Close(); err != nil {
		slog.Warn("failed to close output during device switch", "error", err)
	}

	newOutput := device.NewOutput(deviceIndex, e.cfg.FramesPerBuffer, e.cfg.CanonicalSampleRate, e.renderFrames)
	if err := newOutput.Open(format); err != nil {
		// Roll back to the prior device.
		if reopenErr := e.output.Open(format); reopenErr != nil {
			e.playing.Store(false)
			return fmt.Errorf("device switch failed and rollback failed: %w", reopenErr)
		}
		if wasPlaying {
			e.output.Start()
		}
		return fmt.Errorf("failed to open device %d: %w", deviceIndex, err)
	}

	e.output = newOutput
	e.cfg.DeviceIndex = deviceIndex
	if wasPlaying {
		if err := e.output.Start(); err != nil {
			e.playing.Store(false)
			return fmt.Errorf("failed to restart output on new device: %w", err)
		}
	}
	return nil
}

// SetOutputStreamFormat rebuilds the device's virtual format (rate and
// bit depth) and restarts playback if it had been active.
func (e *Engine) SetOutputStreamFormat(sampleRate, bitsPerSample int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasPlaying := e.playing.Load()
	newFormat := device.Format{
		SampleRate:    sampleRate,
		Channels:      e.cfg.ChannelCount,
		BitsPerSample: bitsPerSample,
	}

	if err := e.output.Open(newFormat); err != nil {
		return fmt.Errorf("failed to set output stream format: %w", err)
	}
	if wasPlaying {
		if err := e.output.Start(); err != nil {
			e.playing.Store(false)
			return fmt.Errorf("failed to restart output after format change: %w", err)
		}
	}
	return nil
}

// SupportsSeeking reports whether the current decoder supports seeking.
func (e *Engine) SupportsSeeking() bool {
	st, _ := e.active.InOrderCurrent()
	if st == nil {
		return false
	}
	return st.Decoder.SupportsSeeking()
}

// CurrentFrame reports the current decoder's rendered frame position.
func (e *Engine) CurrentFrame() int64 {
	st, _ := e.active.InOrderCurrent()
	if st == nil {
		return 0
	}
	return st.FramesRendered()
}

// TotalFrames reports the current decoder's total frame count, or -1
// if unknown.
func (e *Engine) TotalFrames() int64 {
	st, _ := e.active.InOrderCurrent()
	if st == nil {
		return -1
	}
	return st.TotalFrames
}

// CurrentTime reports the current decoder's playback position as a duration.
func (e *Engine) CurrentTime() time.Duration {
	st, _ := e.active.InOrderCurrent()
	if st == nil {
		return 0
	}
	return framesToDuration(st.FramesRendered(), st.SampleRate)
}

// TotalTime reports the current decoder's total duration, or 0 if unknown.
func (e *Engine) TotalTime() time.Duration {
	st, _ := e.active.InOrderCurrent()
	if st == nil || st.TotalFrames < 0 {
		return 0
	}
	return framesToDuration(st.TotalFrames, st.SampleRate)
}

func framesToDuration(frames int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}

// IsPlaying reports whether the device is currently running.
func (e *Engine) IsPlaying() bool { return e.playing.Load() }

// PlayingURL reports the source name of the first decoder enqueued
// since the engine was created or last stopped, or "" if none has been
// enqueued since then. It does not change as playback moves on to
// later decoders.
func (e *Engine) PlayingURL() string {
	p := e.currentURL.Load()
	if p == nil {
		return ""
	}
	return *p
}

// Underruns reports the number of render callback invocations that
// could not be fully satisfied from the ring buffer.
func (e *Engine) Underruns() uint64 { return e.output.Underruns() }

// Idle reports whether the engine has nothing queued and no active
// decoder, i.e. playback has run to completion (or nothing was ever
// enqueued). Callers waiting for a playlist to finish naturally should
// poll this rather than PlayingURL, which only clears on Stop.
func (e *Engine) Idle() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) == 0 && e.active.Count() == 0
}

func (e *Engine) wakeDecoder() {
	select {
	case e.decoderSem <- struct{}{}:
	default:
	}
}

func (e *Engine) wakeCollector() {
	select {
	case e.collectorSem <- struct{}{}:
	default:
	}
}

func (e *Engine) emitDiagnostic(ev types.DiagnosticEvent) {
	if e.diagnostics != nil {
		go e.diagnostics(ev)
	}
}
