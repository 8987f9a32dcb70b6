package decoderstate

import (
	"encoding/binary"
	"testing"

	"github.com/drgolem/gapless/pkg/types"
)

type fakeDecoder struct {
	fmt         types.SourceFormat
	total       int64
	cur         int64
	samples     []int16 // interleaved
	seekTargets map[int64]bool
}

func (f *fakeDecoder) Open(string) error            { return nil }
func (f *fakeDecoder) Close() error                 { return nil }
func (f *fakeDecoder) SourceFormat() types.SourceFormat { return f.fmt }
func (f *fakeDecoder) TotalFrames() int64           { return f.total }
func (f *fakeDecoder) CurrentFrame() int64          { return f.cur }
func (f *fakeDecoder) SupportsSeeking() bool        { return f.seekTargets != nil }
func (f *fakeDecoder) SeekToFrame(n int64) bool {
	if f.seekTargets == nil {
		return false
	}
	f.cur = n
	return true
}

func (f *fakeDecoder) ReadAudio(buf []byte, frameCount int) (int, error) {
	channels := f.fmt.Channels
	avail := int64(len(f.samples)/channels) - f.cur
	if avail <= 0 {
		return 0, nil
	}
	n := int64(frameCount)
	if n > avail {
		n = avail
	}
	for i := int64(0); i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			idx := (f.cur+i)*int64(channels) + int64(ch)
			binary.LittleEndian.PutUint16(buf[(i*int64(channels)+int64(ch))*2:], uint16(f.samples[idx]))
		}
	}
	f.cur += n
	return int(n), nil
}

func TestDecodeIntoConvertsToCanonical(t *testing.T) {
	dec := &fakeDecoder{
		fmt:     types.SourceFormat{SampleRate: 44100, Channels: 1, BitsPerSample: 16},
		total:   4,
		samples: []int16{0, 16384, -16384, 32767},
	}
	st := New(dec, dec.fmt, 4)

	buf := make([]byte, 4*2)
	n, err := st.DecodeInto(buf)
	if err != nil {
		t.Fatalf("DecodeInto: %v", err)
	}
	if n != 4 {
		t.Fatalf("DecodeInto: got %d frames, want 4", n)
	}

	scratch := st.Scratch()[0]
	want := []float64{0, 0.5, -0.5, 32767.0 / 32768.0}
	for i, w := range want {
		if scratch[i] != w {
			t.Errorf("frame %d: got %v, want %v", i, scratch[i], w)
		}
	}
}

func TestFlagsSetClearIdempotent(t *testing.T) {
	dec := &fakeDecoder{fmt: types.SourceFormat{SampleRate: 44100, Channels: 1, BitsPerSample: 16}}
	st := New(dec, dec.fmt, 1)

	st.SetFlag(DecodingStarted)
	st.SetFlag(DecodingStarted) // idempotent
	if !st.HasFlag(DecodingStarted) {
		t.Fatal("expected DecodingStarted set")
	}

	st.SetFlag(DecodingFinished)
	if !st.HasFlag(DecodingStarted | DecodingFinished) {
		t.Fatal("expected both flags set")
	}

	st.ClearFlag(DecodingStarted)
	if st.HasFlag(DecodingStarted) {
		t.Fatal("expected DecodingStarted cleared")
	}
	if !st.HasFlag(DecodingFinished) {
		t.Fatal("expected DecodingFinished to remain set")
	}
}

func TestSeekRequestClaimOnce(t *testing.T) {
	dec := &fakeDecoder{fmt: types.SourceFormat{SampleRate: 44100, Channels: 1, BitsPerSample: 16}}
	st := New(dec, dec.fmt, 1)

	if _, ok := st.ClaimSeek(); ok {
		t.Fatal("expected no pending seek initially")
	}

	st.RequestSeek(12345)
	frame, ok := st.ClaimSeek()
	if !ok || frame != 12345 {
		t.Fatalf("ClaimSeek: got (%d, %v), want (12345, true)", frame, ok)
	}

	if _, ok := st.ClaimSeek(); ok {
		t.Fatal("expected seek request to be consumed after first claim")
	}
}

func TestActiveDecodersClaimAndRelease(t *testing.T) {
	var active ActiveDecoders
	dec := &fakeDecoder{fmt: types.SourceFormat{SampleRate: 44100, Channels: 1, BitsPerSample: 16}}
	st := New(dec, dec.fmt, 1)

	slot := active.ClaimEmptySlot(st)
	if slot < 0 {
		t.Fatal("expected a free slot")
	}
	if active.Count() != 1 {
		t.Fatalf("Count: got %d, want 1", active.Count())
	}

	active.Release(slot)
	if active.Count() != 0 {
		t.Fatalf("Count after release: got %d, want 0", active.Count())
	}
}

func TestActiveDecodersFillsAllSlots(t *testing.T) {
	var active ActiveDecoders
	dec := &fakeDecoder{fmt: types.SourceFormat{SampleRate: 44100, Channels: 1, BitsPerSample: 16}}

	for i := 0; i < KActiveDecoderArraySize; i++ {
		st := New(dec, dec.fmt, 1)
		if active.ClaimEmptySlot(st) < 0 {
			t.Fatalf("expected slot %d to be claimable", i)
		}
	}

	overflow := New(dec, dec.fmt, 1)
	if active.ClaimEmptySlot(overflow) != -1 {
		t.Fatal("expected claim to fail once all 8 slots are occupied")
	}
}

func TestInOrderSortsByTimeStamp(t *testing.T) {
	var active ActiveDecoders
	dec := &fakeDecoder{fmt: types.SourceFormat{SampleRate: 44100, Channels: 1, BitsPerSample: 16}}

	second := New(dec, dec.fmt, 1)
	second.SetTimeStamp(100)
	first := New(dec, dec.fmt, 1)
	first.SetTimeStamp(0)

	active.ClaimEmptySlot(second)
	active.ClaimEmptySlot(first)

	ordered := active.InOrder()
	if len(ordered) != 2 || ordered[0] != first || ordered[1] != second {
		t.Fatal("expected InOrder to sort ascending by timeStamp")
	}
}
