package asset

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/vm"
)

func init() {
	vm.Register(core.TxMintCollectible, handleMintCollectible)
}

func handleMintCollectible(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MintCollectiblePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode mint_collectible payload: %w", err)
	}
	if p.Name == "" {
		return errors.New("collectible name required")
	}

	owner := p.Owner
	if owner == "" {
		owner = ctx.Tx.From
	} else if _, err := crypto.PubKeyFromHex(owner); err != nil {
		return fmt.Errorf("invalid owner pubkey: %w", err)
	}

	// Deterministic ID: hash of tx ID + name
	id := crypto.Hash([]byte(ctx.Tx.ID + ":collectible:" + p.Name))
	if _, err := ctx.State.GetCollectible(id); err == nil {
		return fmt.Errorf("collectible %q already exists", id)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	c := &core.Collectible{
		ID:       id,
		Name:     p.Name,
		Creator:  ctx.Tx.From,
		Metadata: p.Metadata,
		MintedAt: ctx.Now(),
	}
	if err := ctx.State.SetCollectible(c); err != nil {
		return err
	}
	if err := ctx.Ledger.Mint(id, owner, 1); err != nil {
		return err
	}

	ctx.Emit(events.EventCollectibleMinted, map[string]any{
		"collectible": id,
		"name":        p.Name,
		"owner":       owner,
	})
	return nil
}
