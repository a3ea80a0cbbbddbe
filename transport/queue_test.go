package transport

import (
	"context"
	"testing"
	"time"

	"github.com/wiresong/voxhub/wire"
)

func entryWithOpcode(op wire.Opcode) *Entry {
	return &Entry{Packet: &wire.Packet{Opcode: op}}
}

func TestPacketQueueFIFO(t *testing.T) {
	q := NewPacketQueue()
	q.Push(entryWithOpcode(wire.OpHello))
	q.Push(entryWithOpcode(wire.OpACK))

	got, err := q.Get(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Packet.Opcode != wire.OpHello {
		t.Fatalf("expected HELLO first, got %s", got.Packet.Opcode)
	}
}

func TestPacketQueueDropsFromHeadWhenFull(t *testing.T) {
	q := NewPacketQueue()
	for i := 0; i < MaxQueueDepth; i++ {
		if dropped := q.Push(entryWithOpcode(wire.OpAudio)); dropped != nil {
			t.Fatalf("unexpected drop at index %d", i)
		}
	}

	dropped := q.Push(entryWithOpcode(wire.OpRegisterUDP))
	if dropped == nil {
		t.Fatal("expected the head entry to be dropped once the queue is full")
	}
	if dropped.Packet.Opcode != wire.OpAudio {
		t.Fatalf("expected the oldest AUDIO entry dropped, got %s", dropped.Packet.Opcode)
	}
	if q.Len() != MaxQueueDepth {
		t.Fatalf("queue should stay at MaxQueueDepth, got %d", q.Len())
	}
}

func TestPacketQueuePredicateScansFromHead(t *testing.T) {
	q := NewPacketQueue()
	q.Push(entryWithOpcode(wire.OpAudio))
	q.Push(entryWithOpcode(wire.OpSetGate))
	q.Push(entryWithOpcode(wire.OpAudio))

	got, err := q.Get(context.Background(), func(e *Entry) bool { return e.Packet.Opcode == wire.OpAudio })
	if err != nil {
		t.Fatal(err)
	}
	if got.Packet.Opcode != wire.OpAudio {
		t.Fatalf("expected AUDIO, got %s", got.Packet.Opcode)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 remaining entries, got %d", q.Len())
	}
}

func TestPacketQueueGetBlocksUntilPush(t *testing.T) {
	q := NewPacketQueue()
	result := make(chan *Entry, 1)

	go func() {
		e, err := q.Get(context.Background(), nil)
		if err != nil {
			return
		}
		result <- e
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(entryWithOpcode(wire.OpClientJoin))

	select {
	case e := <-result:
		if e.Packet.Opcode != wire.OpClientJoin {
			t.Fatalf("unexpected opcode %s", e.Packet.Opcode)
		}
	case <-time.After(time.Second):
		t.Fatal("Get never unblocked after Push")
	}
}

func TestPacketQueueGetRespectsContextCancellation(t *testing.T) {
	q := NewPacketQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx, nil)
	if err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestPacketQueueCloseWakesWaiters(t *testing.T) {
	q := NewPacketQueue()
	errCh := make(chan error, 1)

	go func() {
		_, err := q.Get(context.Background(), nil)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		if err != ErrQueueClosed {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Get never unblocked after Close")
	}
}
