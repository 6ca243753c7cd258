package core

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

const (
	maxMempoolSize = 10_000
	maxTxAge       = int64(time.Hour)       // reject txs older than 1 hour
	maxTxFuture    = int64(5 * time.Minute) // reject txs more than 5 min in the future
)

// Mempool is a thread-safe pending-transaction pool.
type Mempool struct {
	mu      sync.RWMutex
	chainID string
	txs     map[string]*Transaction
	ord     []string // arrival order, the slot order Pending hands out
}

// NewMempool creates an empty mempool that only admits transactions for chainID.
// An empty chainID admits any chain.
func NewMempool(chainID string) *Mempool {
	return &Mempool{chainID: chainID, txs: make(map[string]*Transaction)}
}

// Add validates and inserts a transaction. Returns an error if the pool is
// full, the tx is already present, the signature or chain ID is invalid, or
// the timestamp is out of the acceptable window (-1 h / +5 min).
func (m *Mempool) Add(tx *Transaction) error {
	if m.chainID != "" && tx.ChainID != m.chainID {
		return fmt.Errorf("chain ID mismatch: got %q want %q", tx.ChainID, m.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	now := time.Now().UnixNano()
	if now-tx.Timestamp > maxTxAge {
		return errors.New("transaction expired")
	}
	if tx.Timestamp-now > maxTxFuture {
		return errors.New("transaction timestamp too far in the future")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= maxMempoolSize {
		return errors.New("mempool full")
	}
	if _, exists := m.txs[tx.ID]; exists {
		return errors.New("tx already in pool")
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n pending transactions. Senders keep the slots their
// transactions took on arrival, but each sender's transactions fill those
// slots in nonce order, so nonce n+1 received before nonce n is still
// offered after it.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bySender := make(map[string][]*Transaction)
	for _, id := range m.ord {
		if tx, ok := m.txs[id]; ok {
			bySender[tx.From] = append(bySender[tx.From], tx)
		}
	}
	for _, q := range bySender {
		slices.SortStableFunc(q, func(a, b *Transaction) int { return cmp.Compare(a.Nonce, b.Nonce) })
	}

	result := make([]*Transaction, 0, n)
	next := make(map[string]int, len(bySender))
	for _, id := range m.ord {
		tx, ok := m.txs[id]
		if !ok {
			continue
		}
		result = append(result, bySender[tx.From][next[tx.From]])
		next[tx.From]++
		if len(result) >= n {
			break
		}
	}
	return result
}

// Expire drops transactions stamped more than an hour before now and returns
// how many were dropped. Transactions waiting on a nonce gap that never
// closes leave the pool this way.
func (m *Mempool) Expire(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.UnixNano() - maxTxAge
	kept := m.ord[:0]
	dropped := 0
	for _, id := range m.ord {
		if tx, ok := m.txs[id]; ok && tx.Timestamp < cutoff {
			delete(m.txs, id)
			dropped++
			continue
		}
		kept = append(kept, id)
	}
	m.ord = kept
	return dropped
}

// Remove deletes transactions by ID (called after block commit and for
// transactions the producer rejected).
func (m *Mempool) Remove(ids []string) {
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(m.txs, id)
		removed[id] = true
	}
	filtered := m.ord[:0]
	for _, id := range m.ord {
		if !removed[id] {
			filtered = append(filtered, id)
		}
	}
	m.ord = filtered
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
