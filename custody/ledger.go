// Package custody moves fungible deposits and collectibles between holders.
// It is the only code that debits or credits holdings in the ledger state.
package custody

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/events"
)

var (
	ErrZeroAmount          = errors.New("custody: amount must be > 0")
	ErrUnauthorized        = errors.New("custody: authority may not debit source")
	ErrInsufficientBalance = errors.New("custody: insufficient balance")
	ErrNotUnique           = errors.New("custody: collectible moves in units of 1")
	ErrOverflow            = errors.New("custody: balance overflow")
)

// Ledger implements transfers over the holdings recorded in core.State.
// It relies on the caller's snapshot to undo a partially applied sequence
// of transfers.
type Ledger struct {
	state  core.State
	sink   events.Sink
	txID   string
	height int64
}

// New returns a Ledger over state that emits no events.
func New(state core.State) *Ledger {
	return &Ledger{state: state}
}

// WithEvents returns a copy of l that reports every transfer to sink,
// tagged with the triggering transaction.
func (l *Ledger) WithEvents(sink events.Sink, txID string, height int64) *Ledger {
	cp := *l
	cp.sink, cp.txID, cp.height = sink, txID, height
	return &cp
}

// Balance returns holder's balance of asset.
func (l *Ledger) Balance(asset, holder string) (uint64, error) {
	return l.state.GetBalance(asset, holder)
}

// Transfer debits amount of asset from `from` and credits `to`. auth must be
// the authority of from.
func (l *Ledger) Transfer(asset, from, to string, amount uint64, auth core.Authority) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	if auth.Address() == "" || auth.Address() != from {
		return fmt.Errorf("%w: %s", ErrUnauthorized, from)
	}
	collectible, err := l.isCollectible(asset)
	if err != nil {
		return err
	}
	if collectible && amount != 1 {
		return fmt.Errorf("%w: %s amount %d", ErrNotUnique, asset, amount)
	}

	have, err := l.state.GetBalance(asset, from)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", from, err)
	}
	if have < amount {
		return fmt.Errorf("%w: %s has %d %s, need %d", ErrInsufficientBalance, from, have, asset, amount)
	}
	if err := l.state.SetBalance(asset, from, have-amount); err != nil {
		return err
	}
	if err := l.credit(asset, to, amount); err != nil {
		return err
	}

	if l.sink != nil {
		l.sink.Emit(events.Event{
			Type:        events.EventAssetTransfer,
			TxID:        l.txID,
			BlockHeight: l.height,
			Data: map[string]any{
				"asset":       asset,
				"from":        from,
				"to":          to,
				"amount":      amount,
				"collectible": collectible,
			},
		})
	}
	return nil
}

// Mint credits amount of asset to holder out of thin air. Only genesis and
// the collectible minting handler call it.
func (l *Ledger) Mint(asset, holder string, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	return l.credit(asset, holder, amount)
}

func (l *Ledger) credit(asset, holder string, amount uint64) error {
	have, err := l.state.GetBalance(asset, holder)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", holder, err)
	}
	if have > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s %s", ErrOverflow, holder, asset)
	}
	return l.state.SetBalance(asset, holder, have+amount)
}

func (l *Ledger) isCollectible(asset string) (bool, error) {
	_, err := l.state.GetCollectible(asset)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("lookup asset %q: %w", asset, err)
}
