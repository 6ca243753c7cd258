package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when a requested object does not exist in storage.
var ErrNotFound = errors.New("not found")

// ErrOutOfOrder is returned by AddBlock for a block that does not extend the tip.
var ErrOutOfOrder = errors.New("block does not extend the tip")

// BlockStore is the persistence interface used by Blockchain.
// Implementations live in the storage package.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	GetBlockByHeight(height int64) (*Block, error)
	// GetTip returns the current tip hash, or ("", nil) for a fresh chain.
	GetTip() (string, error)
	// CommitBlock writes the block, its height index entry and the new tip
	// in one batch.
	CommitBlock(block *Block) error
}

// Head summarises the chain tip. The zero Head describes an empty chain.
type Head struct {
	Height    int64  `json:"height"`
	Hash      string `json:"hash"`
	StateRoot string `json:"state_root"`
	Timestamp int64  `json:"timestamp"` // unix nanoseconds
	Time      int64  `json:"time"`      // unix seconds, the clock pool handlers saw
	Txs       int    `json:"txs"`
}

// Empty reports whether no block, not even genesis, has been stored.
func (h Head) Empty() bool { return h.Hash == "" }

// Blockchain is the canonical chain of blocks, starting at genesis (height 0).
// Each block links to its parent and carries a strictly later timestamp,
// which keeps the stake clock from running backwards.
type Blockchain struct {
	mu    sync.RWMutex
	store BlockStore
	tip   *Block
}

// NewBlockchain returns a Blockchain backed by store.
// Call Init() to load an existing chain tip from storage.
func NewBlockchain(store BlockStore) *Blockchain {
	return &Blockchain{store: store}
}

// Init loads the persisted tip from the block store.
func (bc *Blockchain) Init() error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	tipHash, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if tipHash == "" {
		return nil
	}
	tip, err := bc.store.GetBlock(tipHash)
	if err != nil {
		return fmt.Errorf("load tip block: %w", err)
	}
	bc.tip = tip
	return nil
}

// AddBlock persists block and makes it the tip. The first block must be
// genesis; every later one must link to the tip, sit one height above it
// and be stamped after it.
func (bc *Blockchain) AddBlock(block *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if err := bc.extends(block); err != nil {
		return err
	}
	if err := bc.store.CommitBlock(block); err != nil {
		return fmt.Errorf("commit block: %w", err)
	}
	bc.tip = block
	return nil
}

func (bc *Blockchain) extends(block *Block) error {
	h := block.Header
	if bc.tip == nil {
		if h.Height != 0 {
			return fmt.Errorf("%w: first block has height %d, want genesis", ErrOutOfOrder, h.Height)
		}
		return nil
	}
	tip := bc.tip.Header
	switch {
	case h.Height != tip.Height+1:
		return fmt.Errorf("%w: height %d after tip %d", ErrOutOfOrder, h.Height, tip.Height)
	case h.PrevHash != bc.tip.Hash:
		return fmt.Errorf("%w: prev_hash %s, tip is %s", ErrOutOfOrder, h.PrevHash, bc.tip.Hash)
	case h.Timestamp <= tip.Timestamp:
		return fmt.Errorf("%w: timestamp %d not after tip %d", ErrOutOfOrder, h.Timestamp, tip.Timestamp)
	}
	return nil
}

// NextTimestamp returns the time the next block should carry: now, or one
// nanosecond past the tip when the wall clock lags behind it.
func (bc *Blockchain) NextTimestamp(now time.Time) time.Time {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return now
	}
	if floor := time.Unix(0, bc.tip.Header.Timestamp+1); now.Before(floor) {
		return floor
	}
	return now
}

// Head describes the current tip.
func (bc *Blockchain) Head() Head {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return Head{}
	}
	return Head{
		Height:    bc.tip.Header.Height,
		Hash:      bc.tip.Hash,
		StateRoot: bc.tip.Header.StateRoot,
		Timestamp: bc.tip.Header.Timestamp,
		Time:      bc.tip.Now(),
		Txs:       len(bc.tip.Transactions),
	}
}

// GetBlock returns a block by its hash.
func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	return bc.store.GetBlock(hash)
}

// GetBlockByHeight returns the block at the given height.
func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	return bc.store.GetBlockByHeight(height)
}

// Tip returns the current chain tip, or nil for a fresh chain.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// Height returns the height of the current tip (0 for a fresh chain).
func (bc *Blockchain) Height() int64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return 0
	}
	return bc.tip.Header.Height
}
