package gossip

import (
	"sync"

	"github.com/tangleward/tangle/peers"
	"github.com/tangleward/tangle/transaction"
)

const (
	orphanInitialCapacity = 8
	orphanMaxCapacity     = 1024
)

// orphanEntry is a received transaction whose parents are not yet locally
// known, paired with the peer and signature needed to re-verify it once its
// parents arrive.
type orphanEntry struct {
	Tx        *transaction.Transaction
	Peer      peers.ID
	Signature string
}

// OrphanQueue is a bounded FIFO that grows by doubling from 8 up to 1024
// entries and compacts back down once it empties out below half its
// capacity. Entries are processed in FIFO order by Engine's drain loop; an
// entry that re-orphans is simply re-enqueued, landing at the back.
type OrphanQueue struct {
	mu       sync.Mutex
	buf      []orphanEntry
	capacity int
}

// NewOrphanQueue creates an empty queue at the initial capacity.
func NewOrphanQueue() *OrphanQueue {
	return &OrphanQueue{capacity: orphanInitialCapacity}
}

// Enqueue appends an entry, doubling capacity (up to the 1024 ceiling) if
// the queue is full. At the ceiling, the oldest entry is dropped to make
// room - ring rotation, per spec.
func (q *OrphanQueue) Enqueue(tx *transaction.Transaction, peer peers.ID, signature string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buf) >= q.capacity {
		if q.capacity < orphanMaxCapacity {
			q.capacity *= 2
			if q.capacity > orphanMaxCapacity {
				q.capacity = orphanMaxCapacity
			}
		} else {
			q.buf = q.buf[1:]
		}
	}

	q.buf = append(q.buf, orphanEntry{Tx: tx, Peer: peer, Signature: signature})
}

// DrainAll empties the queue and returns every entry it held, in FIFO order.
func (q *OrphanQueue) DrainAll() []orphanEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.buf
	q.buf = nil
	return out
}

// MaybeShrink compacts the queue's backing capacity to the initial size
// (or the smallest power-of-two multiple that still fits the current
// contents) once the queue is both non-trivial and under half full.
func (q *OrphanQueue) MaybeShrink() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity <= orphanInitialCapacity {
		return
	}
	if len(q.buf) > q.capacity/2 {
		return
	}

	newCap := orphanInitialCapacity
	for newCap < len(q.buf) {
		newCap *= 2
	}
	q.capacity = newCap
}

// Len reports the current number of enqueued entries.
func (q *OrphanQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}
