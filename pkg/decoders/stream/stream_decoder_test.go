package stream

import (
	"context"
	"io"
	"testing"
)

type fakeProvider struct {
	packets []*Packet
	idx     int
}

func (p *fakeProvider) ReadAudioPacket(ctx context.Context, frames int) (*Packet, error) {
	if p.idx >= len(p.packets) {
		return nil, io.EOF
	}
	pkt := p.packets[p.idx]
	p.idx++
	return pkt, nil
}

func testFormat() Format {
	return Format{SampleRate: 8000, Channels: 1, BytesPerSample: 2}
}

func TestReadAudioCopiesPacketBytes(t *testing.T) {
	fmt := testFormat()
	pkt := &Packet{
		Audio:        []byte{1, 2, 3, 4},
		SamplesCount: 2,
		Format:       fmt,
	}
	d := NewDecoder(context.Background(), &fakeProvider{packets: []*Packet{pkt}}, fmt)

	buf := make([]byte, 4)
	n, err := d.ReadAudio(buf, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 frames, got %d", n)
	}
	if string(buf) != string(pkt.Audio) {
		t.Fatalf("expected buf %v, got %v", pkt.Audio, buf)
	}
	if d.CurrentFrame() != 2 {
		t.Fatalf("expected CurrentFrame 2, got %d", d.CurrentFrame())
	}
}

func TestReadAudioPropagatesEOF(t *testing.T) {
	fmt := testFormat()
	d := NewDecoder(context.Background(), &fakeProvider{}, fmt)

	_, err := d.ReadAudio(make([]byte, 4), 2)
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestFormatChangeNotification(t *testing.T) {
	initial := testFormat()
	changed := Format{SampleRate: 16000, Channels: 1, BytesPerSample: 2}
	pkt := &Packet{Audio: []byte{0, 0}, SamplesCount: 1, Format: changed}
	d := NewDecoder(context.Background(), &fakeProvider{packets: []*Packet{pkt}}, initial)

	if _, err := d.ReadAudio(make([]byte, 2), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-d.FormatChanges():
		if got != changed {
			t.Fatalf("expected format change %+v, got %+v", changed, got)
		}
	default:
		t.Fatal("expected a format change notification")
	}

	if d.SourceFormat().SampleRate != changed.SampleRate {
		t.Fatalf("expected SourceFormat to reflect the new sample rate, got %d", d.SourceFormat().SampleRate)
	}
}

func TestSupportsSeekingIsFalse(t *testing.T) {
	d := NewDecoder(context.Background(), &fakeProvider{}, testFormat())
	if d.SupportsSeeking() {
		t.Fatal("expected SupportsSeeking to be false for a live stream")
	}
	if d.SeekToFrame(10) {
		t.Fatal("expected SeekToFrame to always fail")
	}
	if d.TotalFrames() != -1 {
		t.Fatalf("expected TotalFrames -1, got %d", d.TotalFrames())
	}
}
