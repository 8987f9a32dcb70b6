package engine

import (
	"math"
	"sync/atomic"
	"testing"

	"github.com/drgolem/gapless/pkg/decoderstate"
	"github.com/drgolem/gapless/pkg/decoders/synth"
	"github.com/drgolem/gapless/pkg/device"
	"github.com/drgolem/gapless/pkg/ringbuffer"
)

// newTestEngine builds an Engine with a real ring buffer and decode/
// render state but no device.Output, so the decode and render paths
// can be exercised directly without opening PortAudio.
func newTestEngine(channels, sampleRate int, ringCapacity uint64) *Engine {
	e := &Engine{
		cfg: Config{
			ChannelCount:        channels,
			CanonicalSampleRate: sampleRate,
			FramesPerPacket:     decodeChunkFrames,
		},
		ring:         ringbuffer.New(channels, ringCapacity),
		decoderSem:   make(chan struct{}, 1),
		collectorSem: make(chan struct{}, 1),
	}
	e.masterVolume.Store(math.Float64bits(1.0))
	e.channelVolume = make([]atomic.Uint64, channels)
	for i := range e.channelVolume {
		e.channelVolume[i].Store(math.Float64bits(1.0))
	}
	return e
}

func TestDecodeStepPromotesQueuedDecoder(t *testing.T) {
	e := newTestEngine(1, 8000, 8192)
	dec := synth.NewDecoder(440, 8000, 100)
	e.queue = append(e.queue, dec)

	if !e.decodeStep() {
		t.Fatal("expected decodeStep to promote the queued decoder")
	}
	if e.active.Count() != 1 {
		t.Fatalf("expected 1 active decoder, got %d", e.active.Count())
	}

	st, _ := e.active.CurrentDecoding()
	if st == nil {
		t.Fatal("expected a current decoding state")
	}
	if !st.HasFlag(decoderstate.DecodingStarted) {
		t.Fatal("expected DecodingStarted flag to be set")
	}
	if st.TimeStamp() != 0 {
		t.Fatalf("expected first decoder's timeStamp to be 0, got %d", st.TimeStamp())
	}
}

func TestDecodeStepFillsRing(t *testing.T) {
	e := newTestEngine(1, 8000, 8192)
	e.queue = append(e.queue, synth.NewDecoder(440, 8000, 1000))
	e.decodeStep() // promote

	if !e.decodeStep() { // decode a chunk
		t.Fatal("expected decodeStep to make progress decoding")
	}

	if e.ring.FramesAvailableToRead() == 0 {
		t.Fatal("expected decoded frames in the ring")
	}
	st, _ := e.active.CurrentDecoding()
	if st.FramesDecoded() == 0 {
		t.Fatal("expected framesDecoded to advance")
	}
}

func TestDecodeStepFinishesShortDecoder(t *testing.T) {
	e := newTestEngine(1, 8000, 8192)
	e.queue = append(e.queue, synth.NewDecoder(440, 8000, 10))
	e.decodeStep() // promote

	st, _ := e.active.CurrentDecoding()
	for i := 0; i < 10 && st != nil; i++ {
		e.decodeStep()
		st, _ = e.active.CurrentDecoding()
	}

	allStates := e.active.InOrder()
	if len(allStates) != 1 {
		t.Fatalf("expected 1 active decoder state, got %d", len(allStates))
	}
	if !allStates[0].HasFlag(decoderstate.DecodingFinished) {
		t.Fatal("expected DecodingFinished once the source is exhausted")
	}
}

func TestRenderFramesConsumesRingAndAdvancesCounters(t *testing.T) {
	e := newTestEngine(1, 8000, 8192)
	e.queue = append(e.queue, synth.NewDecoder(440, 8000, 2000))
	e.decodeStep() // promote
	e.decodeStep() // decode a chunk

	out := [][]float64{make([]float64, 256)}
	n := e.renderFrames(out, 256)
	if n != 256 {
		t.Fatalf("expected 256 frames rendered, got %d", n)
	}

	st, _ := e.active.CurrentDecoding()
	if st.FramesRendered() != 256 {
		t.Fatalf("expected framesRendered = 256, got %d", st.FramesRendered())
	}
	if !st.HasFlag(decoderstate.RenderingStarted) {
		t.Fatal("expected RenderingStarted to be set")
	}
}

func TestRenderFramesSilenceWhenMuted(t *testing.T) {
	e := newTestEngine(1, 8000, 8192)
	e.muteOutput.Store(true)

	out := [][]float64{{1, 1, 1, 1}}
	n := e.renderFrames(out, 4)
	if n != 4 {
		t.Fatalf("expected full frame count returned while muted, got %d", n)
	}
	for _, v := range out[0] {
		if v != 0 {
			t.Fatal("expected silence while muted")
		}
	}
}

func TestRenderFramesPadsTailOnUnderrun(t *testing.T) {
	e := newTestEngine(1, 8000, 8192)
	e.queue = append(e.queue, synth.NewDecoder(440, 8000, 4))
	e.decodeStep()
	e.decodeStep()

	out := [][]float64{{9, 9, 9, 9, 9, 9, 9, 9}}
	n := e.renderFrames(out, 8)
	if n != 4 {
		t.Fatalf("expected 4 frames actually produced, got %d", n)
	}
	for i := 4; i < 8; i++ {
		if out[0][i] != 0 {
			t.Fatalf("expected silence padding at index %d, got %v", i, out[0][i])
		}
	}
}

func TestGaplessOrderingAcrossTwoDecoders(t *testing.T) {
	e := newTestEngine(1, 8000, 8192)
	e.queue = append(e.queue,
		synth.NewDecoder(440, 8000, 50),
		synth.NewDecoder(880, 8000, 50),
	)

	// Promote and fully decode the first decoder.
	e.decodeStep()
	firstSt, _ := e.active.CurrentDecoding()
	for !firstSt.HasFlag(decoderstate.DecodingFinished) {
		e.decodeStep()
	}

	// Promoting the second decoder must stamp it past the first
	// decoder's entire span, since nothing has been rendered yet.
	e.decodeStep()
	states := e.active.InOrder()
	if len(states) != 2 {
		t.Fatalf("expected 2 active decoders, got %d", len(states))
	}
	if states[1].TimeStamp() < uint64(50) {
		t.Fatalf("expected second decoder's timeStamp to follow the first decoder's 50 frames, got %d", states[1].TimeStamp())
	}

	// Fully decode the second decoder too, so both spans are sitting in
	// the ring ready to be rendered back to back.
	for !states[1].HasFlag(decoderstate.DecodingFinished) {
		e.decodeStep()
	}

	// Render everything; the first decoder must fully finish rendering
	// before the second decoder's RenderingStarted flag is observed.
	out := [][]float64{make([]float64, 10)}
	secondStartedAfterFirstFinished := true
	firstFinishedSeen := false
	for i := 0; i < 20; i++ {
		e.renderFrames(out, 10)
		if states[0].HasFlag(decoderstate.RenderingFinished) {
			firstFinishedSeen = true
		}
		if states[1].HasFlag(decoderstate.RenderingStarted) && !firstFinishedSeen {
			secondStartedAfterFirstFinished = false
		}
	}
	if !firstFinishedSeen {
		t.Fatal("expected first decoder to finish rendering over the 200 rendered frames")
	}
	if !secondStartedAfterFirstFinished {
		t.Fatal("observed decoder B rendering before decoder A fully finished")
	}
}

func TestPerformSeekResetsRingAndDecodesPostSeekChunk(t *testing.T) {
	e := newTestEngine(1, 8000, 8192)
	e.queue = append(e.queue, synth.NewDecoder(440, 8000, 1000))
	e.decodeStep()
	e.decodeStep()

	st, _ := e.active.CurrentDecoding()
	st.AddFramesRendered(300) // simulate playback progress before the seek
	st.SetFlag(decoderstate.RenderingStarted)
	generation := st.SeekGeneration()

	e.performSeek(st, 500)

	if st.FramesRendered() != 0 {
		t.Fatalf("expected framesRendered reset to 0 after a seek, got %d", st.FramesRendered())
	}
	if st.FramesDecoded() <= 500 {
		t.Fatalf("expected framesDecoded to advance past the seek target, got %d", st.FramesDecoded())
	}
	if e.ring.FramesAvailableToRead() == 0 {
		t.Fatal("expected performSeek to decode and write a post-seek chunk into the ring")
	}
	if st.SeekGeneration() != generation+1 {
		t.Fatal("expected performSeek to bump the seek generation on completion")
	}
}

func TestPerformSeekFailureStillCompletesGeneration(t *testing.T) {
	e := newTestEngine(1, 8000, 8192)
	dec := synth.NewDecoder(440, 8000, 10)
	st := decoderstate.New(dec, dec.SourceFormat(), decodeChunkFrames)
	e.active.ClaimEmptySlot(st)

	generation := st.SeekGeneration()
	e.performSeek(st, -1) // synth.SeekToFrame rejects negative targets

	if st.SeekGeneration() != generation+1 {
		t.Fatal("expected performSeek to bump the seek generation even when the seek fails")
	}
}

func TestStopReleasesActiveSlotsWithoutWaitingOnRenderCallback(t *testing.T) {
	e := newTestEngine(1, 8000, 8192)
	e.output = device.NewOutput(0, 512, 8000, e.renderFrames)

	dec := synth.NewDecoder(440, 8000, 1000)
	st := decoderstate.New(dec, dec.SourceFormat(), decodeChunkFrames)
	e.active.ClaimEmptySlot(st)
	st.SetFlag(decoderstate.DecodingStarted)

	// Stop is called with the device never started, so renderFrames
	// never runs and RenderingFinished would otherwise never be set.
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if e.active.Count() != 0 {
		t.Fatalf("expected all active slots released after Stop, got %d", e.active.Count())
	}
	if e.ring.FramesAvailableToRead() != 0 {
		t.Fatal("expected ring to be reset after Stop")
	}
	if e.PlayingURL() != "" {
		t.Fatal("expected PlayingURL cleared after Stop")
	}
}

func TestCollectFinishedReleasesRetiredSlots(t *testing.T) {
	e := newTestEngine(1, 8000, 8192)
	dec := synth.NewDecoder(440, 8000, 10)
	st := decoderstate.New(dec, dec.SourceFormat(), decodeChunkFrames)
	e.active.ClaimEmptySlot(st)

	st.SetFlag(decoderstate.DecodingFinished)
	e.collectFinished()
	if e.active.Count() != 1 {
		t.Fatal("expected slot to remain until RenderingFinished is also set")
	}

	st.SetFlag(decoderstate.RenderingFinished)
	e.collectFinished()
	if e.active.Count() != 0 {
		t.Fatal("expected slot to be released once both finished flags are set")
	}
}
