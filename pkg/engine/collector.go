package engine

import (
	"log/slog"
	"time"

	"github.com/drgolem/gapless/pkg/decoderstate"
)

// collectLoop is C6: it reaps retired decoder states off the realtime
// path. It never touches the ring buffer.
func (e *Engine) collectLoop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case <-e.collectorSem:
		case <-time.After(collectWaitTimeout):
		}

		if !e.keepDecoding.Load() {
			return
		}

		e.collectFinished()
	}
}

func (e *Engine) collectFinished() {
	for i := 0; i < e.active.Len(); i++ {
		st := e.active.At(i)
		if st == nil {
			continue
		}
		if !st.HasFlag(decoderstate.RenderingFinished | decoderstate.DecodingFinished) {
			continue
		}
		if err := st.Decoder.Close(); err != nil {
			slog.Warn("failed to close retired decoder", "error", err)
		}
		e.active.Release(i)
	}
}
