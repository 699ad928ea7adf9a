package session

// offlineQueue is the FIFO buffer of message ids awaiting retransmission.
// It is not safe for concurrent use on its own; the session mutates it under
// its own lock.
type offlineQueue struct {
	ids []string
}

// enqueue appends a message id. Enqueueing an id already present is a no-op
// so a failed flush can safely re-park messages.
func (q *offlineQueue) enqueue(id string) {
	for _, existing := range q.ids {
		if existing == id {
			return
		}
	}
	q.ids = append(q.ids, id)
}

// drain removes and returns all queued ids in FIFO order.
func (q *offlineQueue) drain() []string {
	ids := q.ids
	q.ids = nil
	return ids
}

func (q *offlineQueue) len() int {
	return len(q.ids)
}

func (q *offlineQueue) clear() {
	q.ids = nil
}
