package stakepool_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/custody"
	"github.com/tolelom/tolstake/stakepool"
)

func listOne(t *testing.T, f *fixture, seller, collectible string, price uint64) core.Listing {
	t.Helper()
	var l core.Listing
	require.NoError(t, f.atomically(func(p *core.Pool) (err error) {
		l, err = f.engine.ListForSale(p, seller, collectible, price)
		return err
	}))
	return l
}

func TestListForSale(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	f.mintCollectible("goblin-2", alice)

	l0 := listOne(t, f, alice, "goblin-1", 1000)
	l1 := listOne(t, f, alice, "goblin-2", 20)

	assert.Equal(t, uint64(0), l0.ID)
	assert.Equal(t, uint64(1), l1.ID)
	assert.Equal(t, alice, l0.Seller)
	assert.Equal(t, f.pool.Authority, l0.Vault)
	assert.Equal(t, f.now, l0.CreatedAt)
	assert.False(t, l0.Redeemed)
	assert.Equal(t, uint64(1), f.balance("goblin-1", f.pool.Authority))
	assert.Len(t, f.pool.Listings, 2)

	rank, err := stakepool.RankOf(f.pool, "goblin-2")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), rank)
}

func TestListForSaleZeroPrice(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)

	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.ListForSale(p, alice, "goblin-1", 0)
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrInvalidAmount)
	assert.Equal(t, uint64(1), f.balance("goblin-1", alice))
}

func TestListForSaleNotHeld(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)

	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.ListForSale(p, bob, "goblin-1", 10)
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrTransferFailed)
	assert.Empty(t, f.pool.Listings)
}

func TestBuy(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	listOne(t, f, alice, "goblin-1", 1000)
	f.fund(bob, 1500)

	var got core.Listing
	require.NoError(t, f.atomically(func(p *core.Pool) (err error) {
		got, err = f.engine.Buy(p, bob, 0, "")
		return err
	}))
	assert.True(t, got.Redeemed)
	assert.True(t, f.pool.Listings[0].Redeemed)

	assert.Equal(t, uint64(500), f.balance(core.NativeAsset, bob))
	assert.Equal(t, uint64(950), f.balance(core.NativeAsset, f.pool.Authority))
	assert.Equal(t, uint64(50), f.balance(core.NativeAsset, feeDest))
	assert.Equal(t, uint64(1), f.balance("goblin-1", bob))
	assert.Equal(t, uint64(0), f.balance("goblin-1", f.pool.Authority))
	// Sale proceeds stay in the vault, not with the seller.
	assert.Equal(t, uint64(0), f.balance(core.NativeAsset, alice))

	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Buy(p, bob, 0, "")
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrNFTRedeemed)
	assert.Equal(t, uint64(500), f.balance(core.NativeAsset, bob))
}

func TestBuyFeeFloors(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	listOne(t, f, alice, "goblin-1", 101)
	f.fund(bob, 101)

	require.NoError(t, f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Buy(p, bob, 0, "")
		return err
	}))
	assert.Equal(t, uint64(96), f.balance(core.NativeAsset, f.pool.Authority))
	assert.Equal(t, uint64(5), f.balance(core.NativeAsset, feeDest))
	assert.Equal(t, uint64(0), f.balance(core.NativeAsset, bob))
}

func TestBuyToReceiver(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	listOne(t, f, alice, "goblin-1", 10)
	f.fund(bob, 10)

	require.NoError(t, f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Buy(p, bob, 0, "carol")
		return err
	}))
	assert.Equal(t, uint64(1), f.balance("goblin-1", "carol"))
	// 5% of 10 floors to 0, so the whole price goes to the vault.
	assert.Equal(t, uint64(10), f.balance(core.NativeAsset, f.pool.Authority))
	assert.Equal(t, uint64(0), f.balance(core.NativeAsset, feeDest))
}

func TestBuyUnknownListing(t *testing.T) {
	f := newFixture(t, testParams)
	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Buy(p, bob, 0, "")
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrIndexOutOfRange)
}

func TestBuyInsufficientFunds(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	listOne(t, f, alice, "goblin-1", 1000)
	// Enough for the net leg but not the fee.
	f.fund(bob, 960)

	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Buy(p, bob, 0, "")
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrTransferFailed)
	assert.ErrorIs(t, err, custody.ErrInsufficientBalance)
	assert.Equal(t, uint64(960), f.balance(core.NativeAsset, bob))
	assert.Equal(t, uint64(0), f.balance(core.NativeAsset, f.pool.Authority))
	assert.False(t, f.pool.Listings[0].Redeemed)
}

// failingCustody fails the transfer of one asset and passes the rest through.
type failingCustody struct {
	next  stakepool.Custody
	asset string
}

var errInjected = errors.New("injected custody failure")

func (c failingCustody) Transfer(asset, from, to string, amount uint64, auth core.Authority) error {
	if asset == c.asset {
		return errInjected
	}
	return c.next.Transfer(asset, from, to, amount, auth)
}

func TestBuyCollectibleLegFailureLeavesNoTrace(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	listOne(t, f, alice, "goblin-1", 1000)
	f.fund(bob, 1000)

	engine := stakepool.New(testParams, failingCustody{next: f.ledger, asset: "goblin-1"},
		stakepool.ClockFunc(func() int64 { return f.now }), nil)

	var pool *core.Pool
	err := f.atomically(func(p *core.Pool) error {
		pool = p
		_, err := engine.Buy(p, bob, 0, "")
		return err
	})
	assert.ErrorIs(t, err, errInjected)
	assert.False(t, pool.Listings[0].Redeemed)
	assert.False(t, f.pool.Listings[0].Redeemed)
	assert.Equal(t, uint64(1000), f.balance(core.NativeAsset, bob))
	assert.Equal(t, uint64(0), f.balance(core.NativeAsset, f.pool.Authority))
	assert.Equal(t, uint64(0), f.balance(core.NativeAsset, feeDest))
	assert.Equal(t, uint64(1), f.balance("goblin-1", f.pool.Authority))
}
