package core

import "github.com/tolelom/tolstake/crypto"

// NativeAsset is the chain's fee token. It is also the default pool deposit asset.
const NativeAsset = "tol"

// Account holds a participant's replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Nonce   uint64 `json:"nonce"`
}

// Collectible is a uniquely identified, non-fungible asset. Custody of the
// single unit is tracked as a balance of 1 under its ID.
type Collectible struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Creator  string         `json:"creator"` // pubkey hex
	Metadata map[string]any `json:"metadata,omitempty"`
	MintedAt int64          `json:"minted_at"`
}

// StakeInfo is one outstanding deposit + collectible escrow.
// LastUpdateTime is the deposit timestamp in unix seconds; it is set once.
type StakeInfo struct {
	ID             uint64 `json:"id"`
	Collectible    string `json:"collectible"`
	Depositor      string `json:"depositor"` // pubkey hex
	LastUpdateTime int64  `json:"last_update_time"`
	DepositAmount  uint64 `json:"deposit_amount"`
	Claimed        bool   `json:"claimed"` // collectible already handed back by claim
}

// NFTInfo is the rank record of a collectible known to the pool.
type NFTInfo struct {
	Collectible string `json:"collectible"`
	Rank        uint8  `json:"rank"`
}

// Listing is a collectible held in the pool vault and offered at a fixed price.
type Listing struct {
	ID          uint64 `json:"id"`
	Collectible string `json:"collectible"`
	Vault       string `json:"vault"`  // custody vault holding the collectible
	Seller      string `json:"seller"` // funder pubkey hex
	Price       uint64 `json:"price"`
	Redeemed    bool   `json:"redeemed"`
	CreatedAt   int64  `json:"created_at"`
}

// Pool is the root escrow record. ID, Nonce, Authority, FeeDestination and
// DepositAsset are fixed at creation.
type Pool struct {
	ID             string      `json:"id"`
	Creator        string      `json:"creator"`
	Nonce          uint8       `json:"nonce"`
	Authority      string      `json:"authority"` // vault address derived from ID + Nonce
	FeeDestination string      `json:"fee_destination"`
	DepositAsset   string      `json:"deposit_asset"`
	Stakes         []StakeInfo `json:"stakes"`
	NFTs           []NFTInfo   `json:"nfts"`
	Listings       []Listing   `json:"listings"`
	NextStakeID    uint64      `json:"next_stake_id"`
	CreatedAt      int64       `json:"created_at"`
}

// PoolID returns the deterministic identifier of the pool named name
// created by creator.
func PoolID(creator, name string) string {
	return crypto.Hash([]byte(creator + ":pool:" + name))
}

// Clone returns a deep copy of p so handlers can mutate it without touching
// the caller's value until they decide to persist it.
func (p *Pool) Clone() *Pool {
	cp := *p
	cp.Stakes = append([]StakeInfo(nil), p.Stakes...)
	cp.NFTs = append([]NFTInfo(nil), p.NFTs...)
	cp.Listings = append([]Listing(nil), p.Listings...)
	return &cp
}

// Authority is the identity presented to custody when moving assets out of
// an account. A transfer is only honoured when the authority matches the
// source holder.
type Authority struct {
	address string
}

// SignerAuthority returns the authority of a transaction signer.
func SignerAuthority(address string) Authority {
	return Authority{address: address}
}

// VaultAuthority returns the authority the pool presents for transfers out of
// its custody vault.
func VaultAuthority(p *Pool) Authority {
	return Authority{address: p.Authority}
}

// Address returns the holder address the authority may debit.
func (a Authority) Address() string { return a.address }

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Holdings: per-asset balance of a holder. Missing entries read as 0.
	GetBalance(asset, holder string) (uint64, error)
	SetBalance(asset, holder string, amount uint64) error

	// Collectibles
	GetCollectible(id string) (*Collectible, error)
	SetCollectible(c *Collectible) error

	// Pools
	GetPool(id string) (*Pool, error)
	SetPool(p *Pool) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
