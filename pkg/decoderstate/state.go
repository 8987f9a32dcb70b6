// Package decoderstate implements C2: the per-decoder state record
// tracked while a decoder is active, plus the fixed-size ActiveDecoders
// array the decode, render, and collector goroutines share.
package decoderstate

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/drgolem/gapless/pkg/types"
)

// Flag bits for DecoderState.flags, an atomic bitset so every reader
// sees a consistent snapshot without locking.
const (
	DecodingStarted uint32 = 1 << iota
	DecodingFinished
	RenderingStarted
	RenderingFinished
	CancelDecoding
)

// KActiveDecoderArraySize is the ceiling on simultaneously live
// decoders: the current one being rendered plus however many the
// decode thread has read ahead into. It is kept fixed so ActiveDecoders
// can use per-slot atomic pointers instead of a dynamic, allocating
// container on the hot path.
const KActiveDecoderArraySize = 8

// NoSeekRequest is the sentinel seekRequest value meaning "no pending
// seek", distinct from any valid frame index.
const NoSeekRequest int64 = -1

// State is a passive per-decoder record. It never references the
// engine: the engine iterates states, never the reverse, which avoids
// any cyclic ownership between the controller and its decoders.
type State struct {
	Decoder types.Decoder

	FramesPerPacket int
	TotalFrames     int64
	SampleRate      int
	ChannelCount    int

	framesDecoded atomic.Int64
	framesRendered atomic.Int64
	timeStamp      atomic.Uint64
	flags          atomic.Uint32
	seekRequest    atomic.Int64

	// scratch is decode-side-only conversion scratch: one []float64
	// per channel, reused across ReadAudio calls so the decode thread
	// does not allocate per chunk. Never touched by the render or
	// collector goroutines.
	scratch [][]float64

	// rawBuf is the reusable interleaved-PCM staging buffer ReadAudio
	// decodes into before DecodeInto converts it to scratch.
	rawBuf []byte

	// trimmed is a reusable outer slice for TrimScratch, so the decode
	// thread never allocates a new [][]float64 header per chunk just to
	// report a shorter frame count to the ring buffer.
	trimmed [][]float64

	// seekGeneration counts completed seeks on this decoder. Bumped once
	// by CompleteSeek after the decode thread has repositioned the
	// source and, on success, written a post-seek chunk into the ring.
	// Callers that need to know a seek has actually taken effect (not
	// merely been claimed) should snapshot this before requesting a
	// seek and wait for it to advance.
	seekGeneration atomic.Uint64
}

// New wraps decoder in a fresh State. fmt is the decoder's own
// SourceFormat(), cached here so repeated calls don't cross the
// interface boundary from other goroutines.
func New(decoder types.Decoder, fmt types.SourceFormat, framesPerPacket int) *State {
	s := &State{
		Decoder:         decoder,
		FramesPerPacket: framesPerPacket,
		TotalFrames:     decoder.TotalFrames(),
		SampleRate:      fmt.SampleRate,
		ChannelCount:    fmt.Channels,
	}
	s.seekRequest.Store(NoSeekRequest)

	s.scratch = make([][]float64, fmt.Channels)
	for ch := range s.scratch {
		s.scratch[ch] = make([]float64, framesPerPacket)
	}
	s.rawBuf = make([]byte, framesPerPacket*fmt.Channels*(fmt.BitsPerSample/8))
	s.trimmed = make([][]float64, fmt.Channels)
	return s
}

func (s *State) FramesDecoded() int64  { return s.framesDecoded.Load() }
func (s *State) FramesRendered() int64 { return s.framesRendered.Load() }
func (s *State) TimeStamp() uint64     { return s.timeStamp.Load() }

// EffectiveTotalFrames returns TotalFrames when the source reported a
// known length. When the source length is unknown (TotalFrames < 0,
// e.g. a live stream), it returns the current decoded count once
// DecodingFinished is set (the stream's true length becomes known only
// in retrospect), or the maximum possible value while still decoding so
// the render callback never prematurely finishes it.
func (s *State) EffectiveTotalFrames() int64 {
	if s.TotalFrames >= 0 {
		return s.TotalFrames
	}
	if s.HasFlag(DecodingFinished) {
		return s.framesDecoded.Load()
	}
	return math.MaxInt64
}

// SetTimeStamp records the cumulative ring write offset at which this
// decoder's first frame landed (§4.3 step 3). Written by the decode
// thread when the slot transitions Queued -> Decoding, and again by the
// seek path after it resets the ring.
func (s *State) SetTimeStamp(v uint64) { s.timeStamp.Store(v) }

// AddFramesDecoded advances the decoded counter; only the decode thread
// calls this.
func (s *State) AddFramesDecoded(n int64) { s.framesDecoded.Add(n) }

// SetFramesDecoded is used by the seek path to reset the counter to the
// post-seek position.
func (s *State) SetFramesDecoded(n int64) { s.framesDecoded.Store(n) }

// AddFramesRendered advances the rendered counter; only the render
// callback calls this. Returns the new total.
func (s *State) AddFramesRendered(n int64) int64 { return s.framesRendered.Add(n) }

// ResetFramesRendered zeroes the rendered counter. Used by the seek path:
// without this, a backward seek leaves the old high-water mark in place
// and the render callback's rendered >= total check fires almost
// immediately, retiring a decoder that still has audio left to play.
func (s *State) ResetFramesRendered() { s.framesRendered.Store(0) }

// Flags returns the current flag bitset.
func (s *State) Flags() uint32 { return s.flags.Load() }

// HasFlag reports whether every bit in mask is set.
func (s *State) HasFlag(mask uint32) bool { return s.flags.Load()&mask == mask }

// SetFlag atomically ORs bits into the flag set.
func (s *State) SetFlag(mask uint32) {
	for {
		old := s.flags.Load()
		next := old | mask
		if next == old || s.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

// ClearFlag atomically ANDs bits out of the flag set.
func (s *State) ClearFlag(mask uint32) {
	for {
		old := s.flags.Load()
		next := old &^ mask
		if next == old || s.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

// RequestSeek posts a seek target for the decode thread to claim. It is
// idempotent: a later call overwrites an unclaimed earlier one.
func (s *State) RequestSeek(frame int64) { s.seekRequest.Store(frame) }

// ClaimSeek atomically takes the pending seek request, if any, clearing
// it so no other caller observes it twice.
func (s *State) ClaimSeek() (frame int64, ok bool) {
	for {
		cur := s.seekRequest.Load()
		if cur == NoSeekRequest {
			return 0, false
		}
		if s.seekRequest.CompareAndSwap(cur, NoSeekRequest) {
			return cur, true
		}
	}
}

// HasPendingSeek reports whether a seek request is posted and not yet
// claimed, without consuming it. It turns false as soon as the decode
// thread claims the request, before the seek has been carried out;
// SeekGeneration tracks completion.
func (s *State) HasPendingSeek() bool { return s.seekRequest.Load() != NoSeekRequest }

// SeekGeneration returns the count of seeks completed so far on this
// decoder.
func (s *State) SeekGeneration() uint64 { return s.seekGeneration.Load() }

// CompleteSeek bumps the seek generation counter. Called once by the
// decode thread after a claimed seek has run to completion, whether it
// succeeded or failed.
func (s *State) CompleteSeek() { s.seekGeneration.Add(1) }

// Scratch returns the decode-side conversion scratch buffers, one
// []float64 slice per channel, each FramesPerPacket long.
func (s *State) Scratch() [][]float64 { return s.scratch }

// TrimScratch returns the scratch buffers reduced to their first n
// frames, reusing a cached outer slice so callers can report a partial
// chunk to the ring buffer without allocating.
func (s *State) TrimScratch(n int) [][]float64 {
	for i := range s.scratch {
		s.trimmed[i] = s.scratch[i][:n]
	}
	return s.trimmed
}

// RawScratch returns the reusable interleaved-PCM staging buffer for
// ReadAudio, sized for one decode chunk of this decoder's source format.
func (s *State) RawScratch() []byte { return s.rawBuf }

// DecodeInto reads up to len(s.scratch[0]) frames from the wrapped
// decoder and converts them into s.scratch as canonical deinterleaved
// float64. It returns the number of frames actually decoded. This is
// the only place source-format conversion happens; it is called
// exclusively by the decode thread (C3), never the realtime callback.
func (s *State) DecodeInto(buf []byte) (int, error) {
	frameCount := len(s.scratch[0])
	fmtSrc := s.Decoder.SourceFormat()
	n, err := s.Decoder.ReadAudio(buf, frameCount)
	if n <= 0 {
		return n, err
	}
	deinterleaveToCanonical(buf, s.scratch, n, fmtSrc)
	return n, err
}

// deinterleaveToCanonical converts n frames of interleaved integer PCM
// in buf into planar float64 scratch, normalized to [-1, +1).
func deinterleaveToCanonical(buf []byte, scratch [][]float64, n int, fmtSrc types.SourceFormat) {
	channels := fmtSrc.Channels
	bytesPerSample := fmtSrc.BitsPerSample / 8

	for i := 0; i < n; i++ {
		for ch := 0; ch < channels && ch < len(scratch); ch++ {
			offset := (i*channels + ch) * bytesPerSample
			if offset+bytesPerSample > len(buf) {
				scratch[ch][i] = 0
				continue
			}
			scratch[ch][i] = sampleToFloat64(buf[offset:offset+bytesPerSample], fmtSrc.BitsPerSample)
		}
	}
}

func sampleToFloat64(b []byte, bitsPerSample int) float64 {
	switch bitsPerSample {
	case 8:
		// 8-bit PCM is conventionally unsigned.
		return (float64(b[0]) - 128) / 128.0
	case 16:
		v := int16(binary.LittleEndian.Uint16(b))
		return float64(v) / 32768.0
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF)
		}
		return float64(v) / 8388608.0
	case 32:
		v := int32(binary.LittleEndian.Uint32(b))
		return float64(v) / 2147483648.0
	default:
		return 0
	}
}

// ActiveDecoders is the fixed 8-slot array of simultaneously-live
// decoder states (§3 "ActiveDecoders"). Slots are claimed by the decode
// thread via CompareAndSwap from nil, and cleared by the collector
// after both finished flags are observed — never by the decode or
// render threads.
type ActiveDecoders struct {
	slots [KActiveDecoderArraySize]atomic.Pointer[State]
}

// Len reports the fixed capacity of the array.
func (a *ActiveDecoders) Len() int { return KActiveDecoderArraySize }

// At returns the state in slot i, or nil if empty.
func (a *ActiveDecoders) At(i int) *State { return a.slots[i].Load() }

// ClaimEmptySlot finds an empty slot and atomically installs state into
// it, returning the slot index, or -1 if every slot is occupied.
func (a *ActiveDecoders) ClaimEmptySlot(state *State) int {
	for i := range a.slots {
		if a.slots[i].CompareAndSwap(nil, state) {
			return i
		}
	}
	return -1
}

// Release clears slot i, only valid once the collector has confirmed
// both RenderingFinished and DecodingFinished.
func (a *ActiveDecoders) Release(i int) {
	a.slots[i].Store(nil)
}

// Count returns the number of occupied slots.
func (a *ActiveDecoders) Count() int {
	n := 0
	for i := range a.slots {
		if a.slots[i].Load() != nil {
			n++
		}
	}
	return n
}

// CurrentDecoding returns the occupied slot with ¬DecodingFinished and
// the lowest timeStamp, i.e. the decoder C3 should keep feeding, or nil
// if none is mid-decode.
func (a *ActiveDecoders) CurrentDecoding() (*State, int) {
	var best *State
	bestIdx := -1
	var bestStamp uint64
	for i := range a.slots {
		st := a.slots[i].Load()
		if st == nil || st.HasFlag(DecodingFinished) {
			continue
		}
		stamp := st.TimeStamp()
		if best == nil || stamp < bestStamp {
			best = st
			bestStamp = stamp
			bestIdx = i
		}
	}
	return best, bestIdx
}

// InOrderCurrent returns the occupied slot with the lowest timeStamp
// among those not yet RenderingFinished, i.e. the decoder the render
// callback is currently (or about to start) consuming, or nil if none.
func (a *ActiveDecoders) InOrderCurrent() (*State, int) {
	var best *State
	bestIdx := -1
	var bestStamp uint64
	for i := range a.slots {
		st := a.slots[i].Load()
		if st == nil || st.HasFlag(RenderingFinished) {
			continue
		}
		stamp := st.TimeStamp()
		if best == nil || stamp < bestStamp {
			best = st
			bestStamp = stamp
			bestIdx = i
		}
	}
	return best, bestIdx
}

// InOrder returns every occupied slot's state ordered by timeStamp
// ascending, the same ordering FillInOrder gives the render callback
// for gapless boundary detection. Allocates; not for use on the
// realtime render path (see FillInOrder).
func (a *ActiveDecoders) InOrder() []*State {
	states := make([]*State, 0, KActiveDecoderArraySize)
	for i := range a.slots {
		if st := a.slots[i].Load(); st != nil {
			states = append(states, st)
		}
	}
	sortByTimeStamp(states)
	return states
}

// FillInOrder writes every occupied slot's state into dst, ordered by
// timeStamp ascending, and returns the count. dst must have capacity
// KActiveDecoderArraySize. It performs no allocation, for use on the
// realtime render path.
func (a *ActiveDecoders) FillInOrder(dst *[KActiveDecoderArraySize]*State) int {
	n := 0
	for i := range a.slots {
		if st := a.slots[i].Load(); st != nil {
			dst[n] = st
			n++
		}
	}
	sortByTimeStamp(dst[:n])
	return n
}

func sortByTimeStamp(states []*State) {
	for i := 1; i < len(states); i++ {
		for j := i; j > 0 && states[j-1].TimeStamp() > states[j].TimeStamp(); j-- {
			states[j-1], states[j] = states[j], states[j-1]
		}
	}
}
