package market

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/stakepool"
	"github.com/tolelom/tolstake/vm"
)

func init() {
	vm.Register(core.TxListForSale, handleListForSale)
	vm.Register(core.TxBuy, handleBuy)
}

func handleListForSale(ctx *vm.Context, payload json.RawMessage) error {
	var p core.ListForSalePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode list_for_sale payload: %w", err)
	}
	pool, err := ctx.LoadPool(p.PoolID)
	if err != nil {
		return err
	}
	if _, err := ctx.State.GetCollectible(p.Collectible); err != nil {
		return fmt.Errorf("collectible %q not found: %w", p.Collectible, err)
	}

	listing, err := ctx.Engine().ListForSale(pool, ctx.Tx.From, p.Collectible, p.Price)
	if err != nil {
		return err
	}
	if err := ctx.State.SetPool(pool); err != nil {
		return err
	}

	ctx.Emit(events.EventListForSale, map[string]any{
		"pool_id":     pool.ID,
		"listing_id":  listing.ID,
		"collectible": listing.Collectible,
		"seller":      listing.Seller,
		"price":       listing.Price,
	})
	return nil
}

func handleBuy(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BuyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode buy payload: %w", err)
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

	listing, err := ctx.Engine().Buy(pool, ctx.Tx.From, p.ListingID, p.Receiver)
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
	fee, net := stakepool.SplitPrice(listing.Price, ctx.Params.FeePercent)
	ctx.Emit(events.EventBuy, map[string]any{
		"pool_id":     pool.ID,
		"listing_id":  listing.ID,
		"collectible": listing.Collectible,
		"buyer":       ctx.Tx.From,
		"receiver":    receiver,
		"seller":      listing.Seller,
		"price":       listing.Price,
		"fee":         fee,
		"net":         net,
	})
	return nil
}
