// Package staking registers the pool lifecycle and stake-for-time handlers.
package staking

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/stakepool"
	"github.com/tolelom/tolstake/vm"
)

func init() {
	vm.Register(core.TxInitPool, handleInitPool)
	vm.Register(core.TxStake, handleStake)
	vm.Register(core.TxUnstake, handleUnstake)
	vm.Register(core.TxClaim, handleClaim)
}

func handleInitPool(ctx *vm.Context, payload json.RawMessage) error {
	var p core.InitPoolPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode init_pool payload: %w", err)
	}
	if p.FeeDestination != "" {
		if _, err := crypto.PubKeyFromHex(p.FeeDestination); err != nil {
			return fmt.Errorf("invalid fee destination: %w", err)
		}
	}
	if p.DepositAsset != "" && p.DepositAsset != core.NativeAsset {
		// A collectible cannot be the deposit: it only moves in units of 1.
		if _, err := ctx.State.GetCollectible(p.DepositAsset); err == nil {
			return fmt.Errorf("deposit asset %q is a collectible", p.DepositAsset)
		}
	}

	pool, err := ctx.Engine().InitPool(ctx.Tx.From, p.Name, p.FeeDestination, p.DepositAsset)
	if err != nil {
		return err
	}
	if _, err := ctx.State.GetPool(pool.ID); err == nil {
		return fmt.Errorf("pool %q already exists", pool.ID)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if err := ctx.State.SetPool(pool); err != nil {
		return err
	}

	ctx.Emit(events.EventPoolInit, map[string]any{
		"pool_id":         pool.ID,
		"name":            p.Name,
		"creator":         pool.Creator,
		"authority":       pool.Authority,
		"fee_destination": pool.FeeDestination,
		"deposit_asset":   pool.DepositAsset,
	})
	return nil
}

func handleStake(ctx *vm.Context, payload json.RawMessage) error {
	var p core.StakePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode stake payload: %w", err)
	}
	pool, err := ctx.LoadPool(p.PoolID)
	if err != nil {
		return err
	}
	if _, err := ctx.State.GetCollectible(p.Collectible); err != nil {
		return fmt.Errorf("collectible %q not found: %w", p.Collectible, err)
	}

	stake, err := ctx.Engine().Stake(pool, ctx.Tx.From, p.Collectible, p.Amount)
	if err != nil {
		return err
	}
	if err := ctx.State.SetPool(pool); err != nil {
		return err
	}

	ctx.Emit(events.EventStake, map[string]any{
		"pool_id":     pool.ID,
		"stake_id":    stake.ID,
		"collectible": stake.Collectible,
		"depositor":   stake.Depositor,
		"amount":      stake.DepositAmount,
	})
	return nil
}

func handleUnstake(ctx *vm.Context, payload json.RawMessage) error {
	var p core.UnstakePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode unstake payload: %w", err)
	}
	pool, err := ctx.LoadPool(p.PoolID)
	if err != nil {
		return err
	}

	stake, err := ctx.Engine().Unstake(pool, ctx.Tx.From, p.StakeID)
	if err != nil {
		return err
	}
	if err := ctx.State.SetPool(pool); err != nil {
		return err
	}

	ctx.Emit(events.EventUnstake, map[string]any{
		"pool_id":     pool.ID,
		"stake_id":    stake.ID,
		"collectible": stake.Collectible,
		"depositor":   stake.Depositor,
		"amount":      stake.DepositAmount,
		"claimed":     stake.Claimed,
	})
	return nil
}

func handleClaim(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ClaimPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode claim payload: %w", err)
	}
	if p.Receiver != "" {
		if _, err := crypto.PubKeyFromHex(p.Receiver); err != nil {
			return fmt.Errorf("invalid receiver pubkey: %w", err)
		}
	}
	pool, err := ctx.LoadPool(p.PoolID)
	if err != nil {
		return err
	}

	rank, err := ctx.Engine().Claim(pool, ctx.Tx.From, p.StakeID, p.Receiver)
	if err != nil {
		return err
	}
	if err := ctx.State.SetPool(pool); err != nil {
		return err
	}

	receiver := p.Receiver
	if receiver == "" {
		receiver = ctx.Tx.From
	}
	stake, err := stakepool.FindStake(pool, p.StakeID)
	if err != nil {
		return err
	}
	ctx.Emit(events.EventClaim, map[string]any{
		"pool_id":     pool.ID,
		"stake_id":    p.StakeID,
		"collectible": stake.Collectible,
		"receiver":    receiver,
		"rank":        rank,
	})
	return nil
}
