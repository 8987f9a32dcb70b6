// Package ringbuffer implements the engine's canonical C1 component: a
// lock-free single-producer single-consumer ring buffer of deinterleaved
// float64 audio frames, one parallel array per channel.
package ringbuffer

import (
	"sync/atomic"

	"github.com/drgolem/gapless/pkg/types"
)

// Re-exported for callers that want to errors.Is against the ring
// buffer's own vocabulary without importing pkg/types directly.
var (
	ErrInsufficientSpace = types.ErrInsufficientSpace
	ErrInsufficientData  = types.ErrInsufficientData
)

// RingBuffer is a lock-free SPSC ring buffer of canonical audio frames:
// channelCount independent float64 arrays, normalized to [-1, +1).
//
// Thread safety:
//   - Write() must only ever be called by the decode goroutine (C3).
//   - Read() must only ever be called by the render callback (C4).
//
// Both cursors are published with atomic store/load, which on the
// target architectures gives the release/acquire semantics the design
// requires: a reader that observes a new writePos is guaranteed to see
// the frame data written before that store.
type RingBuffer struct {
	channels     [][]float64 // channelCount parallel arrays, each capacityFrames long
	capacity     uint64      // must be power of 2
	mask         uint64      // capacity - 1
	channelCount int
	writePos     atomic.Uint64
	readPos      atomic.Uint64
}

// New creates a ring buffer for channelCount channels holding at least
// capacityFrames frames, rounded up to the next power of two.
func New(channelCount int, capacityFrames uint64) *RingBuffer {
	capacityFrames = nextPowerOf2(capacityFrames)

	channels := make([][]float64, channelCount)
	for ch := range channels {
		channels[ch] = make([]float64, capacityFrames)
	}

	return &RingBuffer{
		channels:     channels,
		capacity:     capacityFrames,
		mask:         capacityFrames - 1,
		channelCount: channelCount,
	}
}

// ChannelCount returns the number of planar channels this buffer holds.
func (rb *RingBuffer) ChannelCount() int {
	return rb.channelCount
}

// CapacityFrames returns the total frame capacity (a power of two).
func (rb *RingBuffer) CapacityFrames() uint64 {
	return rb.capacity
}

// Write copies up to count frames from frames (one []float64
// per channel) into the ring, starting at the current write position.
// It never blocks and never writes a partial frame count beyond what is
// free; it returns the number of frames actually written. Must only be
// called by the decode goroutine.
func (rb *RingBuffer) Write(frames [][]float64, count int) int {
	if count <= 0 {
		return 0
	}

	available := rb.FramesAvailableToWrite()
	toWrite := uint64(count)
	if toWrite > available {
		toWrite = available
	}
	if toWrite == 0 {
		return 0
	}

	writePos := rb.writePos.Load()
	start := writePos & rb.mask
	end := (writePos + toWrite) & rb.mask

	for ch := 0; ch < rb.channelCount && ch < len(frames); ch++ {
		dst := rb.channels[ch]
		src := frames[ch]
		if end > start {
			copy(dst[start:end], src[:toWrite])
		} else {
			firstChunk := rb.capacity - start
			copy(dst[start:], src[:firstChunk])
			copy(dst[:end], src[firstChunk:toWrite])
		}
	}

	rb.writePos.Store(writePos + toWrite)
	return int(toWrite)
}

// Read copies up to count frames from the ring into out (one
// []float64 per channel), starting at the current read position. If
// fewer frames are available than requested it copies what is available
// and returns that count; the caller is responsible for padding the
// remainder of out with silence on under-run. Must only be called by
// the render callback.
func (rb *RingBuffer) Read(out [][]float64, count int) int {
	if count <= 0 {
		return 0
	}

	available := rb.FramesAvailableToRead()
	toRead := uint64(count)
	if toRead > available {
		toRead = available
	}
	if toRead == 0 {
		return 0
	}

	readPos := rb.readPos.Load()
	start := readPos & rb.mask
	end := (readPos + toRead) & rb.mask

	for ch := 0; ch < rb.channelCount && ch < len(out); ch++ {
		src := rb.channels[ch]
		dst := out[ch]
		if end > start {
			copy(dst[:toRead], src[start:end])
		} else {
			firstChunk := rb.capacity - start
			copy(dst[:firstChunk], src[start:])
			copy(dst[firstChunk:toRead], src[:end])
		}
	}

	rb.readPos.Store(readPos + toRead)
	return int(toRead)
}

// FramesAvailableToRead returns the number of frames the render
// callback can currently read.
func (rb *RingBuffer) FramesAvailableToRead() uint64 {
	return rb.writePos.Load() - rb.readPos.Load()
}

// FramesAvailableToWrite returns the number of frames the decode
// goroutine can currently write without overrunning the reader.
func (rb *RingBuffer) FramesAvailableToWrite() uint64 {
	return rb.capacity - rb.FramesAvailableToRead()
}

// WritePos returns the cumulative number of frames ever written. This
// is the ring's write timeline, used by the decode thread to stamp a
// newly active decoder's timeStamp (§4.3 step 3).
func (rb *RingBuffer) WritePos() uint64 {
	return rb.writePos.Load()
}

// ReadPos returns the cumulative number of frames ever read. Combined
// with WritePos this lets the render callback map a consumed span back
// onto the [timeStamp, timeStamp+totalFrames) ranges of active decoders.
func (rb *RingBuffer) ReadPos() uint64 {
	return rb.readPos.Load()
}

// Reset zeroes both cursors and clears the buffer contents. Only safe
// to call when neither Read nor Write can be concurrently in progress,
// i.e. from the controller while the device I/O callback is stopped.
func (rb *RingBuffer) Reset() {
	for ch := range rb.channels {
		clear(rb.channels[ch])
	}
	rb.readPos.Store(0)
	rb.writePos.Store(0)
}

func nextPowerOf2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
