package engine

import (
	"math"
	"sync/atomic"

	"github.com/drgolem/gapless/pkg/decoderstate"
)

// renderFrames is C4: invoked on PortAudio's realtime thread via
// device.Output's callback. It must not allocate, lock, or block.
func (e *Engine) renderFrames(out [][]float64, frameCount int) int {
	if e.isSeeking.Load() || e.muteOutput.Load() {
		silenceFrom(out, 0, frameCount)
		return frameCount
	}

	readBefore := e.ring.ReadPos()
	n := e.ring.Read(out, frameCount)
	if n < frameCount {
		silenceFrom(out, n, frameCount)
	}

	if n > 0 {
		applyVolume(out, n, e.masterVolume.Load(), e.channelVolume)
		e.advanceRendered(readBefore, n)
	}

	return n
}

// advanceRendered implements §4.4 step 6: distribute the consumed span
// [readBefore, readBefore+n) across every active decoder in timeStamp
// order, crediting each the portion that falls within its own range.
func (e *Engine) advanceRendered(readBefore uint64, n int) {
	spanStart := readBefore
	spanEnd := readBefore + uint64(n)

	count := e.active.FillInOrder(&e.renderOrderBuf)
	for _, st := range e.renderOrderBuf[:count] {
		if st.HasFlag(decoderstate.RenderingFinished) {
			continue
		}

		decStart := st.TimeStamp()
		total := st.EffectiveTotalFrames()
		var decEnd uint64
		if total == math.MaxInt64 {
			decEnd = math.MaxUint64
		} else {
			decEnd = decStart + uint64(total)
		}

		lo := maxU64(spanStart, decStart)
		hi := minU64(spanEnd, decEnd)
		if hi <= lo {
			continue
		}

		if !st.HasFlag(decoderstate.RenderingStarted) {
			st.SetFlag(decoderstate.RenderingStarted)
		}

		rendered := st.AddFramesRendered(int64(hi - lo))
		if total != math.MaxInt64 && rendered >= total {
			st.SetFlag(decoderstate.RenderingFinished)
			e.wakeCollector()
		}
	}
}

// silenceFrom zeroes out[ch][start:end] for every channel, in place.
func silenceFrom(out [][]float64, start, end int) {
	for ch := range out {
		buf := out[ch]
		hi := end
		if hi > len(buf) {
			hi = len(buf)
		}
		if start >= hi {
			continue
		}
		clear(buf[start:hi])
	}
}

func applyVolume(out [][]float64, n int, masterBits uint64, channelVolume []atomic.Uint64) {
	master := math.Float64frombits(masterBits)
	for ch := range out {
		gain := master
		if ch < len(channelVolume) {
			gain *= math.Float64frombits(channelVolume[ch].Load())
		}
		if gain == 1.0 {
			continue
		}
		buf := out[ch][:n]
		for i := range buf {
			buf[i] *= gain
		}
	}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
