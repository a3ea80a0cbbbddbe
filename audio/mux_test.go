package audio

import (
	"testing"
	"time"

	"github.com/wiresong/voxhub/wire"
)

func TestMuxerSumsMultiplePeers(t *testing.T) {
	m := NewMuxer(nil)

	var a, b wire.ClientID
	a[0] = 1
	b[0] = 2

	m.Write(a, samplesOf(FrameSamples, 1000))
	m.Write(b, samplesOf(FrameSamples, 2000))

	out := decodePCM16LE(m.Read())
	if out[0] != 3000 {
		t.Fatalf("expected summed output 3000, got %d", out[0])
	}
}

func TestMuxerClampsOverflow(t *testing.T) {
	m := NewMuxer(nil)
	var a, b wire.ClientID
	a[0] = 1
	b[0] = 2

	m.Write(a, samplesOf(FrameSamples, 30000))
	m.Write(b, samplesOf(FrameSamples, 30000))

	out := decodePCM16LE(m.Read())
	if out[0] != 1<<15-1 {
		t.Fatalf("expected clamp to max int16, got %d", out[0])
	}
}

func TestMuxerWriteReplacesPriorFrame(t *testing.T) {
	m := NewMuxer(nil)
	var a wire.ClientID
	a[0] = 1

	m.Write(a, samplesOf(FrameSamples, 100))
	m.Write(a, samplesOf(FrameSamples, 500))

	out := decodePCM16LE(m.Read())
	if out[0] != 500 {
		t.Fatalf("expected the replacement frame (500), got %d", out[0])
	}
}

func TestMuxerSkipsMisshapenFrames(t *testing.T) {
	m := NewMuxer(nil)
	var a wire.ClientID
	a[0] = 1

	m.Write(a, samplesOf(10, 999)) // wrong length, must be skipped

	done := make(chan struct{})
	go func() {
		m.Read()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Read should still be blocked: the mis-shapen frame must not have been queued")
	case <-time.After(20 * time.Millisecond):
	}

	m.Close()
	<-done
}
