package engine

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/drgolem/gapless/pkg/decoderstate"
	"github.com/drgolem/gapless/pkg/types"
)

// decodeLoop is C3: it keeps the current decoder fed into the ring
// buffer and promotes the next queued decoder once there is room.
func (e *Engine) decodeLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case <-e.decoderSem:
		case <-time.After(decodeWaitTimeout):
		}

		if !e.keepDecoding.Load() {
			return
		}

		progressed := e.decodeStep()
		if !progressed {
			continue
		}
		e.wakeDecoder()
	}
}

// decodeStep performs one iteration of §4.3's loop and reports whether
// it made progress (so the caller can immediately retry rather than
// wait out the full poll interval).
func (e *Engine) decodeStep() bool {
	if st, _ := e.active.CurrentDecoding(); st != nil {
		return e.decodeCurrent(st)
	}
	return e.promoteQueued()
}

func (e *Engine) decodeCurrent(st *decoderstate.State) bool {
	if frame, ok := st.ClaimSeek(); ok {
		e.performSeek(st, frame)
		return true
	}

	if st.HasFlag(decoderstate.CancelDecoding) {
		st.SetFlag(decoderstate.DecodingFinished)
		return true
	}

	if e.ring.FramesAvailableToWrite() < uint64(decodeChunkFrames) {
		return false
	}

	n, err := st.DecodeInto(st.RawScratch())
	if err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("decoder failed, skipping to next", "error", err)
		st.SetFlag(decoderstate.DecodingFinished)
		e.emitDiagnostic(types.DiagnosticEvent{
			Kind:    types.ErrDecoderFailed,
			Message: err.Error(),
			Frame:   st.FramesDecoded(),
		})
		return true
	}
	if n == 0 {
		st.SetFlag(decoderstate.DecodingFinished)
		return true
	}

	written := e.ring.Write(st.TrimScratch(n), n)
	st.AddFramesDecoded(int64(written))
	if err != nil {
		// io.EOF delivered alongside the source's last frames.
		st.SetFlag(decoderstate.DecodingFinished)
	}
	return true
}

// performSeek implements §4.3's seek handling: reposition the source,
// drop any buffered frames for this decoder by resetting the ring,
// reset the rendered counter so a backward seek doesn't leave a stale
// high-water mark behind, decode one post-seek chunk so there is
// something for the renderer to consume, and signal completion. Muting
// is the caller's responsibility (Engine.Seek), which must not unmute
// until CompleteSeek has run, since the ring is briefly inconsistent
// while this function runs concurrently with it being reset.
func (e *Engine) performSeek(st *decoderstate.State, frame int64) {
	defer st.CompleteSeek()

	if !st.Decoder.SeekToFrame(frame) {
		slog.Warn("seek failed on decoder", "frame", frame)
		return
	}

	e.ring.Reset()
	st.SetTimeStamp(e.ring.WritePos())
	st.SetFramesDecoded(frame)
	st.ResetFramesRendered()
	st.ClearFlag(decoderstate.RenderingFinished)

	n, err := st.DecodeInto(st.RawScratch())
	if err != nil {
		slog.Warn("decode failed after seek", "error", err)
		st.SetFlag(decoderstate.DecodingFinished)
		return
	}
	if n == 0 {
		st.SetFlag(decoderstate.DecodingFinished)
		return
	}

	written := e.ring.Write(st.TrimScratch(n), n)
	st.AddFramesDecoded(int64(written))
}

func (e *Engine) promoteQueued() bool {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return false
	}
	next := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	st := decoderstate.New(next, next.SourceFormat(), e.cfg.FramesPerPacket)
	slot := e.active.ClaimEmptySlot(st)
	if slot < 0 {
		// No room to read ahead further; put it back at the front and
		// try again once a slot frees up.
		e.mu.Lock()
		e.queue = append([]types.Decoder{next}, e.queue...)
		e.mu.Unlock()
		return false
	}

	st.SetTimeStamp(e.ring.WritePos())
	st.SetFlag(decoderstate.DecodingStarted)
	return true
}
