package txn

import "sync"

// NonceCounter hands out consecutive nonces starting from an operator
// supplied value. A reserved nonce is never handed out again, whether or
// not the transaction using it succeeds.
type NonceCounter struct {
	mu   sync.Mutex
	next uint64
}

// NewNonceCounter creates a counter whose first reservation returns start.
func NewNonceCounter(start uint64) *NonceCounter {
	return &NonceCounter{next: start}
}

// Reserve returns the current nonce and advances the counter.
func (c *NonceCounter) Reserve() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.next
	c.next++
	return n
}

// Next returns the nonce the next reservation will return.
func (c *NonceCounter) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}
