package vm

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/custody"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/metrics"
	"github.com/tolelom/tolstake/stakepool"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction, custody and the event sink.
type Context struct {
	State  core.State
	Block  *core.Block
	Tx     *core.Transaction
	Params stakepool.Params
	Log    *zap.Logger

	// Emitter buffers events until the transaction commits.
	Emitter events.Sink
	// Ledger is the raw custody backend, used for minting.
	Ledger *custody.Ledger
	// Custody is what pool operations transfer through. It is Ledger unless
	// the executor was configured with a custody wrapper.
	Custody stakepool.Custody
}

// Now is the transaction clock: the block timestamp in unix seconds.
func (ctx *Context) Now() int64 {
	return ctx.Block.Now()
}

// Engine returns a pool engine bound to this transaction's custody and clock.
func (ctx *Context) Engine() *stakepool.Engine {
	return stakepool.New(ctx.Params, ctx.Custody, stakepool.ClockFunc(ctx.Now), ctx.Log)
}

// LoadPool reads pool id. Handlers mutate the returned copy and write it
// back only when the engine call succeeded.
func (ctx *Context) LoadPool(id string) (*core.Pool, error) {
	if id == "" {
		return nil, errors.New("pool_id required")
	}
	pool, err := ctx.State.GetPool(id)
	if err != nil {
		return nil, fmt.Errorf("pool %q not found: %w", id, err)
	}
	return pool.Clone(), nil
}

// Emit tags ev with the transaction and block and queues it.
func (ctx *Context) Emit(typ events.EventType, data map[string]any) {
	ctx.Emitter.Emit(events.Event{
		Type:        typ,
		TxID:        ctx.Tx.ID,
		BlockHeight: ctx.Block.Header.Height,
		Data:        data,
	})
}

// Option configures an Executor.
type Option func(*Executor)

// WithParams sets the pool constants handlers run with.
func WithParams(p stakepool.Params) Option {
	return func(e *Executor) { e.params = p }
}

// WithLogger sets the executor logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// WithChainID makes the executor reject transactions signed for another chain.
func WithChainID(id string) Option {
	return func(e *Executor) { e.chainID = id }
}

// WithCustodyWrapper wraps the custody backend handed to pool operations,
// e.g. to audit or fault-inject transfers.
func WithCustodyWrapper(wrap func(stakepool.Custody) stakepool.Custody) Option {
	return func(e *Executor) { e.wrap = wrap }
}

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	params  stakepool.Params
	chainID string
	wrap    func(stakepool.Custody) stakepool.Custody
	log     *zap.Logger
}

// NewExecutor creates an Executor with the given state and event emitter.
func NewExecutor(state core.State, emitter *events.Emitter, opts ...Option) *Executor {
	e := &Executor{
		state:   state,
		emitter: emitter,
		params:  stakepool.DefaultParams(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Named("vm")
	return e
}

// ExecuteBlock applies all transactions in block sequentially.
// A failing transaction causes the whole block to be rejected.
// EventBlockCommit is emitted by the caller (consensus) after signing so
// the event carries the correct block hash.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	for _, tx := range block.Transactions {
		if err := e.ExecuteTx(block, tx); err != nil {
			return fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
	}
	return nil
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback
// and delivers its events to the executor's emitter.
// On error the state is exactly as before the call and no event is delivered.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	var sink events.Sink
	if e.emitter != nil {
		sink = e.emitter
	}
	return e.ExecuteTxInto(block, tx, sink)
}

// ExecuteTxInto is ExecuteTx with the transaction's events, followed by its
// tx_executed event, handed to sink instead of the emitter. The block
// producer passes a block-wide buffer so nothing is published before the
// block is stored. A nil sink discards the events.
func (e *Executor) ExecuteTxInto(block *core.Block, tx *core.Transaction, sink events.Sink) (err error) {
	defer func() {
		metrics.TxTotal.WithLabelValues(string(tx.Type), metrics.Result(err)).Inc()
	}()

	if e.chainID != "" && tx.ChainID != e.chainID {
		return fmt.Errorf("chain ID mismatch: got %q want %q", tx.ChainID, e.chainID)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	buf := &events.Buffer{}
	if err := e.applyTx(block, tx, buf); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		e.log.Debug("tx reverted",
			zap.String("tx_id", tx.ID),
			zap.String("type", string(tx.Type)),
			zap.Error(err))
		return err
	}

	if sink != nil {
		buf.Flush(sink)
		sink.Emit(events.Event{
			Type:        events.EventTxExecuted,
			TxID:        tx.ID,
			BlockHeight: block.Header.Height,
			Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
		})
	}
	return nil
}

// NonceGap reports how far tx.Nonce is ahead of the sender's account nonce.
// Zero means tx is next in line; a transaction from the past also reports zero
// and is left for applyTx to reject.
func (e *Executor) NonceGap(tx *core.Transaction) (uint64, error) {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return 0, fmt.Errorf("get account: %w", err)
	}
	if tx.Nonce <= acc.Nonce {
		return 0, nil
	}
	return tx.Nonce - acc.Nonce, nil
}

// applyTx burns the fee, increments the nonce, then dispatches to the handler.
func (e *Executor) applyTx(block *core.Block, tx *core.Transaction, buf *events.Buffer) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	if tx.Fee > 0 {
		bal, err := e.state.GetBalance(core.NativeAsset, tx.From)
		if err != nil {
			return fmt.Errorf("get fee balance: %w", err)
		}
		if bal < tx.Fee {
			return fmt.Errorf("insufficient balance for fee: have %d need %d", bal, tx.Fee)
		}
		if err := e.state.SetBalance(core.NativeAsset, tx.From, bal-tx.Fee); err != nil {
			return err
		}
	}
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	ledger := custody.New(e.state).WithEvents(buf, tx.ID, block.Header.Height)
	var cust stakepool.Custody = ledger
	if e.wrap != nil {
		cust = e.wrap(cust)
	}
	ctx := &Context{
		State:   e.state,
		Block:   block,
		Tx:      tx,
		Params:  e.params,
		Log:     e.log.With(zap.String("tx_id", tx.ID)),
		Emitter: buf,
		Ledger:  ledger,
		Custody: cust,
	}
	return globalRegistry.Execute(tx.Type, ctx, tx.Payload)
}
