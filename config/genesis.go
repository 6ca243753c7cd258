package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
	"github.com/tolelom/tolstake/custody"
	"github.com/tolelom/tolstake/events"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisCollectibleID returns the id of the i-th genesis collectible.
func GenesisCollectibleID(chainID string, i int, name string) string {
	return crypto.Hash([]byte(fmt.Sprintf("%s:genesis:%d:%s", chainID, i, name)))
}

// CreateGenesisBlock builds and signs block #0 at cfg.Genesis.Timestamp. It
// credits the native Alloc balances, mints the genesis collectibles and
// commits the state. Mints are reported to sink when it is non-nil. The same
// config and key always produce the same block.
func CreateGenesisBlock(cfg *Config, state core.State, proposerPriv crypto.PrivateKey, sink events.Sink) (*core.Block, error) {
	proposerPub := proposerPriv.Public()
	ledger := custody.New(state)

	for pubkeyHex, balance := range cfg.Genesis.Alloc {
		if _, err := crypto.PubKeyFromHex(pubkeyHex); err != nil {
			return nil, fmt.Errorf("genesis alloc %s: %w", pubkeyHex, err)
		}
		if balance == 0 {
			continue
		}
		if err := ledger.Mint(core.NativeAsset, pubkeyHex, balance); err != nil {
			return nil, fmt.Errorf("genesis alloc %s: %w", pubkeyHex, err)
		}
	}

	block := core.NewBlockAt(0, GenesisHash, proposerPub.Hex(), nil, time.Unix(cfg.Genesis.Timestamp, 0))

	for i, gc := range cfg.Genesis.Collectibles {
		if _, err := crypto.PubKeyFromHex(gc.Owner); err != nil {
			return nil, fmt.Errorf("genesis collectible %q owner: %w", gc.Name, err)
		}
		id := GenesisCollectibleID(cfg.Genesis.ChainID, i, gc.Name)
		c := &core.Collectible{
			ID:       id,
			Name:     gc.Name,
			Creator:  proposerPub.Hex(),
			MintedAt: block.Now(),
		}
		if err := state.SetCollectible(c); err != nil {
			return nil, err
		}
		if err := ledger.Mint(id, gc.Owner, 1); err != nil {
			return nil, fmt.Errorf("genesis collectible %q: %w", gc.Name, err)
		}
		if sink != nil {
			sink.Emit(events.Event{
				Type: events.EventCollectibleMinted,
				Data: map[string]any{"collectible": id, "name": gc.Name, "owner": gc.Owner},
			})
		}
	}

	block.Header.StateRoot = state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	// Embed chain ID via TxRoot for identification
	block.Header.TxRoot = crypto.Hash([]byte(cfg.Genesis.ChainID))
	block.Sign(proposerPriv)
	return block, nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
