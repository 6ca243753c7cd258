package economy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
	"github.com/tolelom/tolstake/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

// handleTransfer moves a fungible amount or a collectible between signers.
// The custody ledger emits the asset_transfer event.
func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("transfer amount must be > 0")
	}
	if p.To == "" {
		return errors.New("transfer to address required")
	}
	if _, err := crypto.PubKeyFromHex(p.To); err != nil {
		return fmt.Errorf("invalid to pubkey: %w", err)
	}
	asset := p.Asset
	if asset == "" {
		asset = core.NativeAsset
	}
	return ctx.Custody.Transfer(asset, ctx.Tx.From, p.To, p.Amount, core.SignerAuthority(ctx.Tx.From))
}
