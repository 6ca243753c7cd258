package stakepool

import (
	"fmt"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/tolelom/tolstake/core"
)

// ListForSale moves funder's collectible into the pool vault and offers it at
// price. Listings are never removed, so a listing id is its position.
func (e *Engine) ListForSale(pool *core.Pool, funder, collectible string, price uint64) (core.Listing, error) {
	if price == 0 {
		return core.Listing{}, fmt.Errorf("%w: price must be > 0", ErrInvalidAmount)
	}

	if err := e.transfer("collectible", collectible, funder, pool.Authority, 1, core.SignerAuthority(funder)); err != nil {
		return core.Listing{}, err
	}

	listing := core.Listing{
		ID:          uint64(len(pool.Listings)),
		Collectible: collectible,
		Vault:       pool.Authority,
		Seller:      funder,
		Price:       price,
		CreatedAt:   e.clock.Now(),
	}
	pool.Listings = append(pool.Listings, listing)
	register(pool, collectible)

	e.log.Debug("listed",
		zap.String("pool", pool.ID),
		zap.Uint64("listing_id", listing.ID),
		zap.String("collectible", collectible),
		zap.Uint64("price", price))
	return listing, nil
}

// Buy pays the listing price, split between the pool vault and the fee
// destination, and delivers the collectible to receiver (the buyer when
// empty). The listing is marked redeemed only after every transfer succeeded.
func (e *Engine) Buy(pool *core.Pool, buyer string, listingID uint64, receiver string) (core.Listing, error) {
	if listingID >= uint64(len(pool.Listings)) {
		return core.Listing{}, fmt.Errorf("%w: listing %d", ErrIndexOutOfRange, listingID)
	}
	listing := &pool.Listings[listingID]
	if listing.Redeemed {
		return core.Listing{}, fmt.Errorf("%w: listing %d", ErrNFTRedeemed, listingID)
	}
	if receiver == "" {
		receiver = buyer
	}

	fee, net := SplitPrice(listing.Price, e.params.FeePercent)
	auth := core.SignerAuthority(buyer)
	if net > 0 {
		if err := e.transfer("payment", pool.DepositAsset, buyer, pool.Authority, net, auth); err != nil {
			return core.Listing{}, err
		}
	}
	if fee > 0 {
		if err := e.transfer("fee", pool.DepositAsset, buyer, pool.FeeDestination, fee, auth); err != nil {
			return core.Listing{}, err
		}
	}
	if err := e.transfer("collectible", listing.Collectible, pool.Authority, receiver, 1, core.VaultAuthority(pool)); err != nil {
		return core.Listing{}, err
	}
	listing.Redeemed = true

	e.log.Debug("bought",
		zap.String("pool", pool.ID),
		zap.Uint64("listing_id", listingID),
		zap.String("buyer", buyer),
		zap.Uint64("net", net),
		zap.Uint64("fee", fee))
	return *listing, nil
}

// SplitPrice returns the marketplace fee (floor of price*feePercent/100) and
// the remainder. The product is computed in 256 bits so it cannot overflow.
func SplitPrice(price, feePercent uint64) (fee, net uint64) {
	f := new(uint256.Int).Mul(uint256.NewInt(price), uint256.NewInt(feePercent))
	f.Div(f, uint256.NewInt(100))
	fee = f.Uint64()
	return fee, price - fee
}
