package voxclient

import (
	"log/slog"
	"testing"

	"github.com/wiresong/voxhub/audio"
	"github.com/wiresong/voxhub/codec"
	"github.com/wiresong/voxhub/wire"
)

func TestEncodeDecodePCM16LERoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}

	b := encodePCM16LE(samples)
	if len(b) != len(samples)*2 {
		t.Fatalf("expected %d bytes, got %d", len(samples)*2, len(b))
	}

	back := decodePCM16LE(b)
	if len(back) != len(samples) {
		t.Fatalf("expected %d samples back, got %d", len(samples), len(back))
	}
	for i, s := range samples {
		if back[i] != s {
			t.Fatalf("sample %d: got %d, want %d", i, back[i], s)
		}
	}
}

type stubDecoder struct{}

func (stubDecoder) Decode(packet []byte) ([]int16, error) { return make([]int16, audio.FrameSamples), nil }

func TestInboundPipelineIsCachedPerPeer(t *testing.T) {
	c := &Client{
		log:         slog.Default(),
		inPipelines: make(map[wire.ClientID]*audio.Pipeline),
		newDecoder:  func() (codec.Decoder, error) { return stubDecoder{}, nil },
	}

	var a, b wire.ClientID
	a[0] = 1
	b[0] = 2

	p1 := c.inboundPipeline(a)
	p2 := c.inboundPipeline(a)
	p3 := c.inboundPipeline(b)

	if p1 != p2 {
		t.Fatal("expected repeated calls for the same peer to return the same pipeline")
	}
	if p1 == p3 {
		t.Fatal("expected a different peer to get its own independent pipeline")
	}
}
