package dispatcher

import "sync"

// RoundRobin cycles through workers in index order, wrapping modulo
// workerCount. Mutation of next is serialized by a short critical section,
// never held across a suspension point.
type RoundRobin struct {
	workerCount int

	mu   sync.Mutex
	next int
}

// NewRoundRobin constructs a RoundRobin dispatcher over workerCount workers.
func NewRoundRobin(workerCount int) *RoundRobin {
	return &RoundRobin{workerCount: workerCount, next: -1}
}

// Select ignores queryString: RoundRobin carries no affinity.
func (d *RoundRobin) Select(queryString string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next = (d.next + 1) % d.workerCount
	return d.next
}
