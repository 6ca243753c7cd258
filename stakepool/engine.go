// Package stakepool implements the stake-for-time escrow pool and its
// collectible marketplace.
//
// The engine is a synchronous state machine over an explicitly passed
// *core.Pool. Each operation validates, then issues custody transfers, then
// updates the pool bookkeeping. It never rolls anything back itself: the host
// runtime executes each operation inside a state snapshot and discards it when
// an error is returned.
package stakepool

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
)

const (
	DefaultDepositRequirement uint64 = 10_000_000_000_000
	DefaultHoldDuration       int64  = 1 // seconds
	DefaultFeePercent         uint64 = 5
	DefaultMaxRank            uint8  = 8
)

// Custody moves assets between holders. amount 1 on a collectible is a
// non-fungible transfer. auth must be entitled to debit from.
type Custody interface {
	Transfer(asset, from, to string, amount uint64, auth core.Authority) error
}

// Clock reports the current time in unix seconds.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) Now() int64 { return f() }

// Params are the economic constants of every pool on the chain.
type Params struct {
	DepositRequirement uint64 `json:"deposit_requirement" mapstructure:"deposit_requirement"`
	HoldDuration       int64  `json:"hold_duration" mapstructure:"hold_duration"` // seconds
	FeePercent         uint64 `json:"fee_percent" mapstructure:"fee_percent"`
	MaxRank            uint8  `json:"max_rank" mapstructure:"max_rank"`
}

// DefaultParams returns the mainnet pool constants.
func DefaultParams() Params {
	return Params{
		DepositRequirement: DefaultDepositRequirement,
		HoldDuration:       DefaultHoldDuration,
		FeePercent:         DefaultFeePercent,
		MaxRank:            DefaultMaxRank,
	}
}

// Validate rejects parameter sets the engine cannot honour.
func (p Params) Validate() error {
	if p.DepositRequirement == 0 {
		return errors.New("deposit_requirement must be > 0")
	}
	if p.HoldDuration < 0 {
		return errors.New("hold_duration must be >= 0")
	}
	if p.FeePercent > 100 {
		return fmt.Errorf("fee_percent %d exceeds 100", p.FeePercent)
	}
	if p.MaxRank == 0 {
		return errors.New("max_rank must be > 0")
	}
	return nil
}

// Engine executes pool operations against a custody backend.
type Engine struct {
	params  Params
	custody Custody
	clock   Clock
	log     *zap.Logger
}

// New creates an Engine. A nil logger is replaced by a no-op logger.
func New(params Params, custody Custody, clock Clock, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{params: params, custody: custody, clock: clock, log: log.Named("stakepool")}
}

// Params returns the engine's constants.
func (e *Engine) Params() Params { return e.params }

// InitPool builds a new pool named name for creator. The vault authority is
// derived from the pool id and the nonce found for it; both are fixed for the
// lifetime of the pool. Persisting the pool and rejecting duplicates is the
// caller's job.
func (e *Engine) InitPool(creator, name, feeDestination, depositAsset string) (*core.Pool, error) {
	if name == "" {
		return nil, errors.New("pool name required")
	}
	if feeDestination == "" {
		feeDestination = creator
	}
	if depositAsset == "" {
		depositAsset = core.NativeAsset
	}
	id := core.PoolID(creator, name)
	authority, nonce, err := crypto.FindVaultAuthority(id)
	if err != nil {
		return nil, err
	}
	pool := &core.Pool{
		ID:             id,
		Creator:        creator,
		Nonce:          nonce,
		Authority:      authority,
		FeeDestination: feeDestination,
		DepositAsset:   depositAsset,
		CreatedAt:      e.clock.Now(),
	}
	e.log.Debug("pool initialised",
		zap.String("pool", id),
		zap.String("authority", authority),
		zap.Uint8("nonce", nonce))
	return pool, nil
}

// VerifyAuthority checks that pool.Authority is the address derived from its
// id and nonce.
func VerifyAuthority(pool *core.Pool) error {
	want, err := crypto.VaultAuthority(pool.ID, pool.Nonce)
	if err != nil {
		return err
	}
	if want != pool.Authority {
		return fmt.Errorf("pool %s authority %s does not match derived %s", pool.ID, pool.Authority, want)
	}
	return nil
}

// transfer issues one custody leg and tags a failure with ErrTransferFailed.
func (e *Engine) transfer(leg, asset, from, to string, amount uint64, auth core.Authority) error {
	if err := e.custody.Transfer(asset, from, to, amount, auth); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransferFailed, leg, err)
	}
	return nil
}

// register records a rank entry the first time a collectible enters the pool.
func register(pool *core.Pool, collectible string) {
	if nftIndex(pool, collectible) >= 0 {
		return
	}
	pool.NFTs = append(pool.NFTs, core.NFTInfo{Collectible: collectible})
}

func nftIndex(pool *core.Pool, collectible string) int {
	for i := range pool.NFTs {
		if pool.NFTs[i].Collectible == collectible {
			return i
		}
	}
	return -1
}

// RankOf returns the rank of collectible in pool.
func RankOf(pool *core.Pool, collectible string) (uint8, error) {
	i := nftIndex(pool, collectible)
	if i < 0 {
		return 0, fmt.Errorf("%w: %s", ErrAssetNotRegistered, collectible)
	}
	return pool.NFTs[i].Rank, nil
}
