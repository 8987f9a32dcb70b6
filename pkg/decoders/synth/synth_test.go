package synth

import (
	"encoding/binary"
	"testing"
)

func TestReadAudioRespectsDuration(t *testing.T) {
	d := NewDecoder(440, 8000, 10)
	buf := make([]byte, 100)

	n, err := d.ReadAudio(buf, 20)
	if err != nil {
		t.Fatalf("ReadAudio: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 frames capped by duration, got %d", n)
	}

	n, err = d.ReadAudio(buf, 5)
	if err != nil {
		t.Fatalf("ReadAudio after exhaustion: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 frames after duration exhausted, got %d", n)
	}
}

func TestReadAudioUnbounded(t *testing.T) {
	d := NewDecoder(440, 8000, -1)
	buf := make([]byte, 20)

	n, err := d.ReadAudio(buf, 10)
	if err != nil {
		t.Fatalf("ReadAudio: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 frames, got %d", n)
	}
	if d.TotalFrames() != -1 {
		t.Fatalf("expected unbounded TotalFrames, got %d", d.TotalFrames())
	}
}

func TestSeekToFrameMovesPhase(t *testing.T) {
	d := NewDecoder(440, 8000, 100)
	if !d.SeekToFrame(50) {
		t.Fatal("expected seek to succeed")
	}
	if d.CurrentFrame() != 50 {
		t.Fatalf("expected CurrentFrame() = 50, got %d", d.CurrentFrame())
	}
	if d.SeekToFrame(-1) {
		t.Fatal("expected seek to negative frame to fail")
	}
}

func TestReadAudioProducesNonZeroSignal(t *testing.T) {
	d := NewDecoder(1000, 8000, 100)
	buf := make([]byte, 200)
	n, err := d.ReadAudio(buf, 100)
	if err != nil {
		t.Fatalf("ReadAudio: %v", err)
	}

	foundNonZero := false
	for i := 0; i < n; i++ {
		if int16(binary.LittleEndian.Uint16(buf[i*2:])) != 0 {
			foundNonZero = true
			break
		}
	}
	if !foundNonZero {
		t.Fatal("expected at least one non-zero sample in sine output")
	}
}
