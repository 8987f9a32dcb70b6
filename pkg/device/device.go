// Package device wraps github.com/drgolem/go-portaudio to implement
// the device adapter (C7): it owns the PortAudio stream, rebuilds the
// resample and bit-depth conversion chain whenever the negotiated
// virtual format changes, and invokes a caller-supplied render
// function from PortAudio's realtime callback.
package device

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/drgolem/gapless/pkg/pcmconv"
	"github.com/drgolem/gapless/pkg/resample"
	"github.com/drgolem/gapless/pkg/types"

	"github.com/drgolem/go-portaudio/portaudio"
)

// Format describes the device's negotiated virtual output format: the
// rate and bit depth audio is actually delivered to PortAudio in,
// which may differ from any individual decoder's source format.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// RenderFunc fills canonical planar float64 buffers with frameCount
// frames of audio at the device's sample rate, returning the number of
// frames actually produced. It must not block or allocate.
type RenderFunc func(out [][]float64, frameCount int) int

// Output owns a PortAudio output stream and the converter chain that
// turns canonical planar float64 audio into the wire format PortAudio
// expects.
type Output struct {
	deviceIndex     int
	framesPerBuffer int

	stream *portaudio.PaStream
	format Format

	render RenderFunc

	resampler *resample.Converter
	pcmConv   types.PCMConverter

	canonicalRate int
	scratch       [][]float64
	outBuf        []byte

	underruns atomic.Uint64
}

// NewOutput constructs an Output bound to deviceIndex. canonicalRate is
// the ring buffer's internal sample rate; render is invoked with
// canonical-rate buffers and must be safe to call from PortAudio's
// audio thread.
func NewOutput(deviceIndex, framesPerBuffer, canonicalRate int, render RenderFunc) *Output {
	return &Output{
		deviceIndex:     deviceIndex,
		framesPerBuffer: framesPerBuffer,
		canonicalRate:   canonicalRate,
		render:          render,
	}
}

// Open negotiates format and opens the PortAudio stream. Calling Open
// again after a prior Open rebuilds the converter chain and reopens
// the stream, which is how format changes (§4.7) are applied.
func (o *Output) Open(format Format) error {
	if o.stream != nil {
		if err := o.Close(); err != nil {
			return err
		}
	}

	var sampleFormat portaudio.PaSampleFormat
	switch format.BitsPerSample {
	case 16:
		sampleFormat = portaudio.SampleFmtInt16
	case 24:
		sampleFormat = portaudio.SampleFmtInt24
	case 32:
		sampleFormat = portaudio.SampleFmtInt32
	default:
		return fmt.Errorf("unsupported output bit depth %d: %w", format.BitsPerSample, types.ErrFormatUnsupported)
	}

	conv, err := pcmconv.ForBitDepth(format.BitsPerSample, format.Channels)
	if err != nil {
		return err
	}

	resampler, err := resample.New(o.canonicalRate, format.SampleRate, format.Channels)
	if err != nil {
		return fmt.Errorf("failed to build resampler: %w", err)
	}

	o.format = format
	o.pcmConv = conv
	o.resampler = resampler

	o.scratch = make([][]float64, format.Channels)
	for ch := range o.scratch {
		o.scratch[ch] = make([]float64, o.framesPerBuffer)
	}
	o.outBuf = make([]byte, o.framesPerBuffer*conv.BytesPerFrame())

	stream := &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  o.deviceIndex,
			ChannelCount: format.Channels,
			SampleFormat: sampleFormat,
		},
		SampleRate: float64(format.SampleRate),
	}

	if err := stream.OpenCallback(o.framesPerBuffer, o.callback); err != nil {
		return fmt.Errorf("failed to open output stream: %w: %w", err, types.ErrDeviceUnavailable)
	}
	o.stream = stream

	return nil
}

// Start begins audio output.
func (o *Output) Start() error {
	if o.stream == nil {
		return types.ErrDeviceUnavailable
	}
	if err := o.stream.StartStream(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	return nil
}

// Stop halts audio output without releasing the stream.
func (o *Output) Stop() error {
	if o.stream == nil {
		return nil
	}
	return o.stream.StopStream()
}

// Close stops and releases the stream.
func (o *Output) Close() error {
	if o.stream == nil {
		return nil
	}
	if err := o.stream.StopStream(); err != nil {
		slog.Warn("failed to stop stream during close", "error", err)
	}
	err := o.stream.CloseCallback()
	o.stream = nil
	if o.resampler != nil {
		o.resampler.Close()
		o.resampler = nil
	}
	return err
}

// Underruns reports the number of times the render callback could not
// fill the requested frame count.
func (o *Output) Underruns() uint64 { return o.underruns.Load() }

// Format reports the negotiated virtual output format.
func (o *Output) Format() Format { return o.format }

func (o *Output) callback(
	_, output []byte,
	frameCount uint,
	_ *portaudio.StreamCallbackTimeInfo,
	_ portaudio.StreamCallbackFlags,
) portaudio.StreamCallbackResult {
	n := int(frameCount)
	if n > len(o.scratch[0]) {
		n = len(o.scratch[0])
	}

	produced := o.render(o.scratch, n)

	canonical := o.scratch
	outFrames := produced
	if o.resampler.Enabled() && produced > 0 {
		resampled, rn, err := o.resampler.Convert(o.scratch, produced)
		if err != nil {
			slog.Error("resample failed in render callback", "error", err)
			clear(output)
			return portaudio.Continue
		}
		canonical = resampled
		outFrames = rn
	}

	bytesPerFrame := o.pcmConv.BytesPerFrame()
	needed := outFrames * bytesPerFrame
	if needed > len(o.outBuf) {
		needed = len(o.outBuf)
		outFrames = needed / bytesPerFrame
	}
	if outFrames > 0 {
		o.pcmConv.Convert(canonical, o.outBuf[:needed], outFrames)
		copy(output, o.outBuf[:needed])
	}

	if needed < len(output) {
		clear(output[needed:])
		if produced < n {
			o.underruns.Add(1)
		}
	}

	return portaudio.Continue
}
