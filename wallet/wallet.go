package wallet

import (
	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
// Every builder signs for chainID with the given nonce and fee.
type Wallet struct {
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
	chainID string
}

// New creates a Wallet from an existing private key that signs for chainID.
func New(priv crypto.PrivateKey, chainID string) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public(), chainID: chainID}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate(chainID string) (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv, chainID), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx creates a signed transaction. nonce should match the account's
// current nonce.
func (w *Wallet) NewTx(typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(w.chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer moves amount of asset to `to`. An empty asset is the native token.
func (w *Wallet) Transfer(asset, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxTransfer, nonce, fee, core.TransferPayload{Asset: asset, To: to, Amount: amount})
}

func (w *Wallet) MintCollectible(name, owner string, metadata map[string]any, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxMintCollectible, nonce, fee, core.MintCollectiblePayload{
		Name:     name,
		Owner:    owner,
		Metadata: metadata,
	})
}

// InitPool creates a pool; the resulting id is core.PoolID(w.PubKey(), name).
func (w *Wallet) InitPool(name, feeDestination, depositAsset string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxInitPool, nonce, fee, core.InitPoolPayload{
		Name:           name,
		FeeDestination: feeDestination,
		DepositAsset:   depositAsset,
	})
}

func (w *Wallet) Stake(poolID, collectible string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxStake, nonce, fee, core.StakePayload{PoolID: poolID, Collectible: collectible, Amount: amount})
}

func (w *Wallet) Unstake(poolID string, stakeID, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxUnstake, nonce, fee, core.UnstakePayload{PoolID: poolID, StakeID: stakeID})
}

func (w *Wallet) Claim(poolID string, stakeID uint64, receiver string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxClaim, nonce, fee, core.ClaimPayload{PoolID: poolID, StakeID: stakeID, Receiver: receiver})
}

func (w *Wallet) ListForSale(poolID, collectible string, price, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxListForSale, nonce, fee, core.ListForSalePayload{PoolID: poolID, Collectible: collectible, Price: price})
}

func (w *Wallet) Buy(poolID string, listingID uint64, receiver string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(core.TxBuy, nonce, fee, core.BuyPayload{PoolID: poolID, ListingID: listingID, Receiver: receiver})
}
