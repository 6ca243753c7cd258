package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolstake/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer        TxType = "transfer"
	TxMintCollectible TxType = "mint_collectible"
	TxInitPool        TxType = "init_pool"
	TxStake           TxType = "stake"
	TxUnstake         TxType = "unstake"
	TxClaim           TxType = "claim"
	TxListForSale     TxType = "list_for_sale"
	TxBuy             TxType = "buy"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload moves Amount of Asset to To. Asset defaults to the native
// token; a collectible is moved with Amount 1.
type TransferPayload struct {
	Asset  string `json:"asset,omitempty"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// MintCollectiblePayload creates a new collectible held by Owner.
type MintCollectiblePayload struct {
	Name     string         `json:"name"`
	Owner    string         `json:"owner"` // recipient pubkey hex; defaults to sender
	Metadata map[string]any `json:"metadata,omitempty"`
}

// InitPoolPayload creates a stake pool owned by the sender.
type InitPoolPayload struct {
	Name           string `json:"name"`
	FeeDestination string `json:"fee_destination"` // defaults to sender
	DepositAsset   string `json:"deposit_asset"`   // defaults to NativeAsset
}

// StakePayload locks Amount of the pool's deposit asset together with Collectible.
type StakePayload struct {
	PoolID      string `json:"pool_id"`
	Collectible string `json:"collectible"`
	Amount      uint64 `json:"amount"`
}

// UnstakePayload withdraws a stake.
type UnstakePayload struct {
	PoolID  string `json:"pool_id"`
	StakeID uint64 `json:"stake_id"`
}

// ClaimPayload upgrades the staked collectible's rank and hands it back.
type ClaimPayload struct {
	PoolID   string `json:"pool_id"`
	StakeID  uint64 `json:"stake_id"`
	Receiver string `json:"receiver,omitempty"` // defaults to sender
}

// ListForSalePayload moves Collectible into the pool vault and offers it at Price.
type ListForSalePayload struct {
	PoolID      string `json:"pool_id"`
	Collectible string `json:"collectible"`
	Price       uint64 `json:"price"`
}

// BuyPayload purchases a listing.
type BuyPayload struct {
	PoolID    string `json:"pool_id"`
	ListingID uint64 `json:"listing_id"`
	Receiver  string `json:"receiver,omitempty"` // defaults to sender
}
