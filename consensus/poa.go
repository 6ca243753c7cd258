// Package consensus implements Proof-of-Authority block production.
// Validators propose blocks in round-robin order. Each block is signed by
// the proposer; other nodes verify the signature before accepting the block.
package consensus

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/tolstake/config"
	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/metrics"
	"github.com/tolelom/tolstake/vm"
)

const defaultMaxBlockTxs = 500

// PoA is the Proof-of-Authority consensus engine.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	pubKey  crypto.PublicKey
	log     *zap.Logger
	now     func() time.Time
}

// New creates a PoA engine for the local validator identified by privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	log *zap.Logger,
) *PoA {
	if log == nil {
		log = zap.NewNop()
	}
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		pubKey:  privKey.Public(),
		log:     log.Named("consensus"),
		now:     time.Now,
	}
}

// SetClock replaces the wall clock blocks are stamped with.
func (p *PoA) SetClock(now func() time.Time) {
	p.now = now
}

// IsProposer reports whether this node should propose the next block.
func (p *PoA) IsProposer() bool {
	if len(p.cfg.Validators) == 0 {
		return false
	}
	nextHeight := p.bc.Height() + 1
	idx := int(nextHeight) % len(p.cfg.Validators)
	return p.cfg.Validators[idx] == p.pubKey.Hex()
}

// ProduceBlock builds, executes, signs and commits the next block.
// Pending transactions that fail are left out of the block and dropped from
// the mempool; their state changes were already rolled back by the executor.
// Transactions whose nonce is ahead of their sender stay pending. Events are
// published only once the block and its state are stored.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	if !p.IsProposer() {
		return nil, errors.New("not the proposer for this round")
	}

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = defaultMaxBlockTxs
	}
	now := p.now()
	if n := p.mempool.Expire(now); n > 0 {
		p.log.Info("expired pending txs", zap.Int("count", n))
	}
	pending := p.mempool.Pending(limit)

	head := p.bc.Head()
	if head.Empty() {
		return nil, errors.New("chain has no genesis block")
	}
	// Block time never goes backwards, so neither does the transaction clock.
	block := core.NewBlockAt(head.Height+1, head.Hash, p.pubKey.Hex(), nil, p.bc.NextTimestamp(now))

	snap, err := p.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	blockEvents := &events.Buffer{}
	included := make([]*core.Transaction, 0, len(pending))
	processed := make([]string, 0, len(pending))
	deferred := 0
	for _, tx := range pending {
		if gap, err := p.exec.NonceGap(tx); err == nil && gap > 0 {
			deferred++
			p.log.Debug("tx waiting on nonce",
				zap.String("tx_id", tx.ID),
				zap.Uint64("nonce", tx.Nonce),
				zap.Uint64("gap", gap))
			continue
		}
		processed = append(processed, tx.ID)
		if err := p.exec.ExecuteTxInto(block, tx, blockEvents); err != nil {
			p.log.Info("tx rejected",
				zap.String("tx_id", tx.ID),
				zap.String("type", string(tx.Type)),
				zap.Error(err))
			continue
		}
		included = append(included, tx)
	}
	block.Transactions = included
	block.Header.TxRoot = core.ComputeTxRoot(included)

	// Compute root from the write buffer BEFORE flushing so that if AddBlock
	// fails the state has not yet been persisted and the node stays consistent.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.bc.AddBlock(block); err != nil {
		if revertErr := p.state.RevertToSnapshot(snap); revertErr != nil {
			p.log.Error("revert after add block failure", zap.Error(revertErr))
		}
		return nil, fmt.Errorf("add block: %w", err)
	}

	// Flush state only after the block is safely stored.
	if err := p.state.Commit(); err != nil {
		p.log.Fatal("block stored but state commit failed",
			zap.Int64("height", block.Header.Height),
			zap.Error(err))
	}

	blockEvents.Flush(p.emitter)
	// Emit after Sign() so block.Hash is set correctly.
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"hash": block.Hash, "txs": len(block.Transactions)},
	})

	p.mempool.Remove(processed)

	metrics.BlocksTotal.Inc()
	metrics.BlockTxs.Observe(float64(len(included)))
	metrics.MempoolSize.Set(float64(p.mempool.Size()))
	p.log.Debug("block produced",
		zap.Int64("height", block.Header.Height),
		zap.String("hash", block.Hash),
		zap.Int("txs", len(included)),
		zap.Int("rejected", len(processed)-len(included)),
		zap.Int("deferred", deferred))
	return block, nil
}

// ValidateBlock checks that block was proposed by the expected validator.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if len(p.cfg.Validators) == 0 {
		return errors.New("no validators configured")
	}
	idx := int(block.Header.Height) % len(p.cfg.Validators)
	expected := p.cfg.Validators[idx]
	if block.Header.Proposer != expected {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, expected)
	}

	pub, err := crypto.PubKeyFromHex(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer pubkey: %w", err)
	}
	if block.ComputeHash() != block.Hash {
		return errors.New("block hash does not match header")
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	if got := core.ComputeTxRoot(block.Transactions); got != block.Header.TxRoot {
		return fmt.Errorf("tx_root mismatch: got %s want %s", block.Header.TxRoot, got)
	}

	// Validate previous hash linkage
	tip := p.bc.Tip()
	if tip == nil {
		if !config.IsGenesisHash(block.Header.PrevHash) {
			return errors.New("first block must reference genesis prev-hash")
		}
	} else {
		if block.Header.PrevHash != tip.Hash {
			return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
		}
		if block.Header.Height != tip.Header.Height+1 {
			return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
		}
		if block.Header.Timestamp <= tip.Header.Timestamp {
			return errors.New("block timestamp does not advance")
		}
	}
	return nil
}

// Run starts the block-production loop with the given interval. It blocks
// until done is closed.
func (p *PoA) Run(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if p.IsProposer() {
				if _, err := p.ProduceBlock(); err != nil {
					p.log.Warn("produce block", zap.Error(err))
				}
			}
		}
	}
}
