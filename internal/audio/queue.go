package audio

import (
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Push after Close.
var ErrQueueClosed = errors.New("chunk queue closed")

// ChunkQueue is the bounded FIFO between the assembler and the dispatcher.
//
// Overflow policy: a Push into a full queue evicts the oldest queued chunk and
// counts the eviction. Push never blocks, so a slow inference stage can only cost
// coverage, never memory or capture latency.
//
// Pop blocks until a chunk is available or the queue is closed. After Close the
// remaining chunks are still delivered in order before Pop reports closed.
type ChunkQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*AudioChunk
	head   int
	count  int
	closed bool

	pushed  uint64
	evicted uint64
}

// NewChunkQueue creates a queue holding at most capacity chunks.
func NewChunkQueue(capacity int) *ChunkQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &ChunkQueue{items: make([]*AudioChunk, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a chunk, evicting the oldest one when the queue is full.
// It returns the evicted chunk, if any.
func (q *ChunkQueue) Push(chunk *AudioChunk) (*AudioChunk, error) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}

	var evicted *AudioChunk
	if q.count == len(q.items) {
		evicted = q.items[q.head]
		q.items[q.head] = nil
		q.head = (q.head + 1) % len(q.items)
		q.count--
		q.evicted++
	}

	q.items[(q.head+q.count)%len(q.items)] = chunk
	q.count++
	q.pushed++

	q.cond.Signal()
	q.mu.Unlock()

	return evicted, nil
}

// Pop removes and returns the oldest chunk, blocking while the queue is empty.
// ok is false once the queue is closed and drained.
func (q *ChunkQueue) Pop() (chunk *AudioChunk, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 {
		return nil, false
	}

	chunk = q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.count--
	return chunk, true
}

// Close stops accepting chunks and wakes any blocked Pop. Idempotent.
func (q *ChunkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued chunks.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *ChunkQueue) Cap() int {
	return len(q.items)
}

// Evicted returns the number of chunks evicted since creation.
func (q *ChunkQueue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// Pushed returns the number of chunks accepted since creation.
func (q *ChunkQueue) Pushed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed
}

// Closed reports whether Close has been called.
func (q *ChunkQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
