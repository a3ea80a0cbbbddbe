package transport

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/wiresong/voxhub/wire"
)

// MaxQueueDepth is the backpressure limit for a controller's inbound queue.
// Audio freshness outweighs delivery: once a queue holds this many entries,
// appending another drops the oldest one instead of growing unbounded.
const MaxQueueDepth = 10

// ErrQueueClosed is returned by Get/TryGet once Close has been called.
var ErrQueueClosed = errors.New("transport: queue closed")

// Entry is one inbound packet tagged with where it came from. Socket is the
// owning TCP connection (nil for UDP); Addr is the UDP remote address (nil
// for TCP).
type Entry struct {
	Packet *wire.Packet
	Socket net.Conn
	Addr   net.Addr
}

// PacketQueue is a bounded, predicate-searchable FIFO of tagged inbound
// entries. A controller owns exactly two: one fed during the handshake
// (pre-auth) and one fed afterward (post-auth). Adapted from the teacher's
// wsutil.ExtraHandlers predicate-waiter design, but built around a plain
// FIFO buffer instead of per-waiter channels, since here every entry (not
// just ones a waiter is looking for) must be retained in order for later
// Get calls.
type PacketQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Entry
	closed bool
}

// NewPacketQueue builds an empty queue.
func NewPacketQueue() *PacketQueue {
	q := &PacketQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends e to the tail. If the queue is at MaxQueueDepth, the head
// entry is discarded first and returned as dropped.
func (q *PacketQueue) Push(e *Entry) (dropped *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return e
	}

	if len(q.items) >= MaxQueueDepth {
		dropped = q.items[0]
		q.items = q.items[1:]
	}

	q.items = append(q.items, e)
	q.cond.Signal()
	return dropped
}

// Get pops the first entry for which check returns true, scanning from the
// head so that matching entries are still returned in FIFO order relative
// to each other. If check is nil, any entry matches. Get blocks until a
// match appears, the queue is closed, or ctx is done.
func (q *PacketQueue) Get(ctx context.Context, check func(*Entry) bool) (*Entry, error) {
	// A condition variable has no context-aware wait, so a watcher
	// goroutine wakes the cond when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.cond.Broadcast()
			case <-done:
			}
		}()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if idx := q.indexLocked(check); idx >= 0 {
			pkt := q.items[idx]
			q.items = append(q.items[:idx], q.items[idx+1:]...)
			return pkt, nil
		}

		if q.closed {
			return nil, ErrQueueClosed
		}

		if ctx != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		q.cond.Wait()
	}
}

// TryGet is the non-blocking form of Get.
func (q *PacketQueue) TryGet(check func(*Entry) bool) (*Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.indexLocked(check)
	if idx < 0 {
		return nil, false
	}

	pkt := q.items[idx]
	q.items = append(q.items[:idx], q.items[idx+1:]...)
	return pkt, true
}

func (q *PacketQueue) indexLocked(check func(*Entry) bool) int {
	for i, pkt := range q.items {
		if check == nil || check(pkt) {
			return i
		}
	}
	return -1
}

// Len reports the current depth.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every blocked Get with ErrQueueClosed and rejects future
// Pushes. Idempotent.
func (q *PacketQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
