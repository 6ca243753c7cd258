package stakepool

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/tolelom/tolstake/core"
)

// Stake locks the deposit and collectible of caller in the pool vault and
// records a new stake. Stake ids are assigned from a counter and stay valid
// when other stakes are removed.
func (e *Engine) Stake(pool *core.Pool, caller, collectible string, amount uint64) (core.StakeInfo, error) {
	if amount != e.params.DepositRequirement {
		return core.StakeInfo{}, fmt.Errorf("%w: got %d want %d", ErrInvalidAmount, amount, e.params.DepositRequirement)
	}

	auth := core.SignerAuthority(caller)
	if err := e.transfer("deposit", pool.DepositAsset, caller, pool.Authority, amount, auth); err != nil {
		return core.StakeInfo{}, err
	}
	if err := e.transfer("collectible", collectible, caller, pool.Authority, 1, auth); err != nil {
		return core.StakeInfo{}, err
	}

	stake := core.StakeInfo{
		ID:             pool.NextStakeID,
		Collectible:    collectible,
		Depositor:      caller,
		LastUpdateTime: e.clock.Now(),
		DepositAmount:  amount,
	}
	pool.NextStakeID++
	pool.Stakes = append(pool.Stakes, stake)
	register(pool, collectible)

	e.log.Debug("staked",
		zap.String("pool", pool.ID),
		zap.Uint64("stake_id", stake.ID),
		zap.String("collectible", collectible),
		zap.String("depositor", caller))
	return stake, nil
}

// Unstake returns the deposit, and the collectible if it was not claimed,
// to the depositor and removes the stake.
func (e *Engine) Unstake(pool *core.Pool, caller string, stakeID uint64) (core.StakeInfo, error) {
	i, err := stakeIndex(pool, stakeID)
	if err != nil {
		return core.StakeInfo{}, err
	}
	stake := pool.Stakes[i]
	if stake.Depositor != caller {
		return core.StakeInfo{}, fmt.Errorf("%w: stake %d", ErrNoNFTOwner, stakeID)
	}

	vault := core.VaultAuthority(pool)
	if stake.DepositAmount > 0 {
		if err := e.transfer("deposit", pool.DepositAsset, pool.Authority, caller, stake.DepositAmount, vault); err != nil {
			return core.StakeInfo{}, err
		}
	}
	if !stake.Claimed {
		if err := e.transfer("collectible", stake.Collectible, pool.Authority, caller, 1, vault); err != nil {
			return core.StakeInfo{}, err
		}
	}

	pool.Stakes = slices.Delete(pool.Stakes, i, i+1)

	e.log.Debug("unstaked",
		zap.String("pool", pool.ID),
		zap.Uint64("stake_id", stakeID),
		zap.Bool("claimed", stake.Claimed))
	return stake, nil
}

// Claim hands the staked collectible to receiver once the holding period has
// elapsed and raises its rank by one, up to MaxRank. The deposit stays in the
// vault until Unstake. An empty receiver means the caller.
func (e *Engine) Claim(pool *core.Pool, caller string, stakeID uint64, receiver string) (uint8, error) {
	i, err := stakeIndex(pool, stakeID)
	if err != nil {
		return 0, err
	}
	stake := &pool.Stakes[i]
	if stake.Depositor != caller {
		return 0, fmt.Errorf("%w: stake %d", ErrNoNFTOwner, stakeID)
	}
	if stake.Claimed {
		return 0, fmt.Errorf("%w: stake %d", ErrAlreadyClaimed, stakeID)
	}
	n := nftIndex(pool, stake.Collectible)
	if n < 0 {
		return 0, fmt.Errorf("%w: %s", ErrAssetNotRegistered, stake.Collectible)
	}
	now := e.clock.Now()
	if unlock := stake.LastUpdateTime + e.params.HoldDuration; now < unlock {
		return 0, fmt.Errorf("%w: now %d, unlocks at %d", ErrInvalidTime, now, unlock)
	}
	if receiver == "" {
		receiver = caller
	}

	if err := e.transfer("collectible", stake.Collectible, pool.Authority, receiver, 1, core.VaultAuthority(pool)); err != nil {
		return 0, err
	}

	nft := &pool.NFTs[n]
	if nft.Rank < e.params.MaxRank {
		nft.Rank++
	}
	stake.Claimed = true

	e.log.Debug("claimed",
		zap.String("pool", pool.ID),
		zap.Uint64("stake_id", stakeID),
		zap.String("collectible", stake.Collectible),
		zap.Uint8("rank", nft.Rank))
	return nft.Rank, nil
}

// FindStake returns the stake with id stakeID.
func FindStake(pool *core.Pool, stakeID uint64) (core.StakeInfo, error) {
	i, err := stakeIndex(pool, stakeID)
	if err != nil {
		return core.StakeInfo{}, err
	}
	return pool.Stakes[i], nil
}

func stakeIndex(pool *core.Pool, stakeID uint64) (int, error) {
	for i := range pool.Stakes {
		if pool.Stakes[i].ID == stakeID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: stake %d", ErrIndexOutOfRange, stakeID)
}
