package audio

import "container/heap"

// JitterRollover is the rollover-protection window: an inbound sequence
// more than this far behind the current watermark is treated as a new
// rollover epoch rather than a stale duplicate.
const JitterRollover = 50

// JitterBufferSize is the minimum heap depth before the buffer starts
// releasing frames, trading a little latency for reorder tolerance.
const JitterBufferSize = 5

type jitterEntry struct {
	sequence uint16
	data     []byte
}

type jitterHeap []jitterEntry

func (h jitterHeap) Len() int            { return len(h) }
func (h jitterHeap) Less(i, j int) bool  { return h[i].sequence < h[j].sequence }
func (h jitterHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jitterHeap) Push(x interface{}) { *h = append(*h, x.(jitterEntry)) }
func (h *jitterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// JitterBuffer reorders inbound packets by sequence number before handing
// them downstream: an ordered min-heap with rollover protection. ctx.
// Sequence identifies each inbound frame.
type JitterBuffer struct {
	heap      jitterHeap
	watermark uint16
	started   bool
}

// NewJitterBuffer builds an empty buffer.
func NewJitterBuffer() *JitterBuffer {
	return &JitterBuffer{heap: make(jitterHeap, 0, JitterBufferSize*2)}
}

func (j *JitterBuffer) Process(data []byte, ctx *Context) ([]byte, bool) {
	seq := ctx.Sequence

	if j.started {
		// A sequence strictly below the watermark is either a late
		// duplicate (drop) or, if it's fallen further behind than
		// JitterRollover, a legitimate 16-bit counter wraparound
		// (accept as a fresh epoch).
		behind := j.watermark - seq
		if seq < j.watermark && behind <= JitterRollover {
			return nil, true
		}
	}

	heap.Push(&j.heap, jitterEntry{sequence: seq, data: data})
	j.started = true

	if j.heap.Len() < JitterBufferSize {
		return nil, true
	}

	entry := heap.Pop(&j.heap).(jitterEntry)
	j.watermark = entry.sequence
	return entry.data, false
}

func (j *JitterBuffer) Clone() Processor {
	return NewJitterBuffer()
}

var _ Processor = (*JitterBuffer)(nil)
