package vm_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
	"github.com/tolelom/tolstake/custody"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/internal/testutil"
	"github.com/tolelom/tolstake/stakepool"
	"github.com/tolelom/tolstake/storage"
	"github.com/tolelom/tolstake/vm"
	"github.com/tolelom/tolstake/wallet"

	_ "github.com/tolelom/tolstake/vm/modules/asset"
	_ "github.com/tolelom/tolstake/vm/modules/economy"
	_ "github.com/tolelom/tolstake/vm/modules/market"
	_ "github.com/tolelom/tolstake/vm/modules/staking"
)

const chainID = "test"

var params = stakepool.Params{
	DepositRequirement: 1_000,
	HoldDuration:       60,
	FeePercent:         5,
	MaxRank:            8,
}

type env struct {
	t       *testing.T
	state   *storage.StateDB
	emitter *events.Emitter
	exec    *vm.Executor
	nonces  map[string]uint64
	now     time.Time
}

func newEnv(t *testing.T, opts ...vm.Option) *env {
	t.Helper()
	e := &env{
		t:       t,
		state:   testutil.NewStateDB(),
		emitter: events.NewEmitter(nil),
		nonces:  map[string]uint64{},
		now:     time.Unix(1_700_000_000, 0),
	}
	opts = append([]vm.Option{vm.WithChainID(chainID), vm.WithParams(params)}, opts...)
	e.exec = vm.NewExecutor(e.state, e.emitter, opts...)
	return e
}

func (e *env) wallet(funds uint64) *wallet.Wallet {
	e.t.Helper()
	w, err := wallet.Generate(chainID)
	require.NoError(e.t, err)
	if funds > 0 {
		require.NoError(e.t, custody.New(e.state).Mint(core.NativeAsset, w.PubKey(), funds))
	}
	return w
}

func (e *env) block() *core.Block {
	return core.NewBlockAt(1, "prev", "proposer", nil, e.now)
}

// run builds a transaction with w's next nonce and executes it.
func (e *env) run(w *wallet.Wallet, build func(nonce uint64) (*core.Transaction, error)) (*core.Transaction, error) {
	e.t.Helper()
	tx, err := build(e.nonces[w.PubKey()])
	require.NoError(e.t, err)
	err = e.exec.ExecuteTx(e.block(), tx)
	if err == nil {
		e.nonces[w.PubKey()]++
	}
	return tx, err
}

func (e *env) balance(asset, holder string) uint64 {
	e.t.Helper()
	b, err := e.state.GetBalance(asset, holder)
	require.NoError(e.t, err)
	return b
}

func (e *env) mint(w *wallet.Wallet, name string) string {
	e.t.Helper()
	tx, err := e.run(w, func(n uint64) (*core.Transaction, error) {
		return w.MintCollectible(name, "", nil, n, 0)
	})
	require.NoError(e.t, err)
	return crypto.Hash([]byte(tx.ID + ":collectible:" + name))
}

func (e *env) initPool(w *wallet.Wallet, name, feeDest string) *core.Pool {
	e.t.Helper()
	_, err := e.run(w, func(n uint64) (*core.Transaction, error) {
		return w.InitPool(name, feeDest, "", n, 0)
	})
	require.NoError(e.t, err)
	pool, err := e.state.GetPool(core.PoolID(w.PubKey(), name))
	require.NoError(e.t, err)
	return pool
}

func (e *env) pool(id string) *core.Pool {
	e.t.Helper()
	p, err := e.state.GetPool(id)
	require.NoError(e.t, err)
	return p
}

func TestTransferAndFee(t *testing.T) {
	e := newEnv(t)
	alice := e.wallet(100)
	bob := e.wallet(0)

	_, err := e.run(alice, func(n uint64) (*core.Transaction, error) {
		return alice.Transfer("", bob.PubKey(), 40, n, 2)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(58), e.balance(core.NativeAsset, alice.PubKey()))
	assert.Equal(t, uint64(40), e.balance(core.NativeAsset, bob.PubKey()))

	acc, err := e.state.GetAccount(alice.PubKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acc.Nonce)
}

func TestNonceReplay(t *testing.T) {
	e := newEnv(t)
	alice := e.wallet(100)
	bob := e.wallet(0)

	tx, err := e.run(alice, func(n uint64) (*core.Transaction, error) {
		return alice.Transfer("", bob.PubKey(), 1, n, 0)
	})
	require.NoError(t, err)
	assert.Error(t, e.exec.ExecuteTx(e.block(), tx))
	assert.Equal(t, uint64(1), e.balance(core.NativeAsset, bob.PubKey()))
}

func TestFailedTxRevertsFeeAndNonce(t *testing.T) {
	e := newEnv(t)
	alice := e.wallet(10)
	bob := e.wallet(0)

	_, err := e.run(alice, func(n uint64) (*core.Transaction, error) {
		return alice.Transfer("", bob.PubKey(), 100, n, 1)
	})
	assert.ErrorIs(t, err, custody.ErrInsufficientBalance)
	assert.Equal(t, uint64(10), e.balance(core.NativeAsset, alice.PubKey()))
	acc, err := e.state.GetAccount(alice.PubKey())
	require.NoError(t, err)
	assert.Zero(t, acc.Nonce)
}

func TestRejectsForeignChainAndUnknownType(t *testing.T) {
	e := newEnv(t)
	alice := e.wallet(10)

	foreign := wallet.New(alice.PrivKey(), "elsewhere")
	tx, err := foreign.Transfer("", alice.PubKey(), 1, 0, 0)
	require.NoError(t, err)
	assert.Error(t, e.exec.ExecuteTx(e.block(), tx))

	tx, err = alice.NewTx("session_open", 0, 0, struct{}{})
	require.NoError(t, err)
	assert.Error(t, e.exec.ExecuteTx(e.block(), tx))
	assert.False(t, vm.Registered("session_open"))
	assert.True(t, vm.Registered(core.TxBuy))
}

func TestMintCollectible(t *testing.T) {
	e := newEnv(t)
	alice := e.wallet(0)

	var minted []events.Event
	e.emitter.Subscribe(events.EventCollectibleMinted, func(ev events.Event) { minted = append(minted, ev) })

	id := e.mint(alice, "goblin")
	c, err := e.state.GetCollectible(id)
	require.NoError(t, err)
	assert.Equal(t, "goblin", c.Name)
	assert.Equal(t, alice.PubKey(), c.Creator)
	assert.Equal(t, e.now.Unix(), c.MintedAt)
	assert.Equal(t, uint64(1), e.balance(id, alice.PubKey()))

	require.Len(t, minted, 1)
	assert.Equal(t, id, minted[0].Data["collectible"])
}

func TestInitPoolRejectsDuplicate(t *testing.T) {
	e := newEnv(t)
	alice := e.wallet(0)
	pool := e.initPool(alice, "goblins", "")
	assert.Equal(t, alice.PubKey(), pool.FeeDestination)
	require.NoError(t, stakepool.VerifyAuthority(pool))

	_, err := e.run(alice, func(n uint64) (*core.Transaction, error) {
		return alice.InitPool("goblins", "", "", n, 0)
	})
	assert.Error(t, err)
}

func TestStakeClaimUnstake(t *testing.T) {
	e := newEnv(t)
	owner := e.wallet(0)
	alice := e.wallet(5_000)
	pool := e.initPool(owner, "goblins", "")
	goblin := e.mint(alice, "goblin")

	var staked []events.Event
	e.emitter.Subscribe(events.EventStake, func(ev events.Event) { staked = append(staked, ev) })

	_, err := e.run(alice, func(n uint64) (*core.Transaction, error) {
		return alice.Stake(pool.ID, goblin, params.DepositRequirement, n, 0)
	})
	require.NoError(t, err)
	require.Len(t, staked, 1)
	assert.Equal(t, uint64(0), staked[0].Data["stake_id"])
	assert.Equal(t, uint64(4_000), e.balance(core.NativeAsset, alice.PubKey()))
	assert.Equal(t, uint64(1), e.balance(goblin, pool.Authority))

	// Same block time: still locked.
	_, err = e.run(alice, func(n uint64) (*core.Transaction, error) {
		return alice.Claim(pool.ID, 0, "", n, 0)
	})
	assert.ErrorIs(t, err, stakepool.ErrInvalidTime)

	e.now = e.now.Add(time.Duration(params.HoldDuration) * time.Second)
	_, err = e.run(alice, func(n uint64) (*core.Transaction, error) {
		return alice.Claim(pool.ID, 0, "", n, 0)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.balance(goblin, alice.PubKey()))
	rank, err := stakepool.RankOf(e.pool(pool.ID), goblin)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), rank)

	_, err = e.run(alice, func(n uint64) (*core.Transaction, error) {
		return alice.Unstake(pool.ID, 0, n, 0)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000), e.balance(core.NativeAsset, alice.PubKey()))
	assert.Empty(t, e.pool(pool.ID).Stakes)
}

func TestStakeUnknownCollectible(t *testing.T) {
	e := newEnv(t)
	owner := e.wallet(0)
	alice := e.wallet(5_000)
	pool := e.initPool(owner, "goblins", "")

	_, err := e.run(alice, func(n uint64) (*core.Transaction, error) {
		return alice.Stake(pool.ID, "missing", params.DepositRequirement, n, 0)
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Equal(t, uint64(5_000), e.balance(core.NativeAsset, alice.PubKey()))
}

func TestListAndBuy(t *testing.T) {
	e := newEnv(t)
	owner := e.wallet(0)
	treasury := e.wallet(0)
	seller := e.wallet(0)
	buyer := e.wallet(2_000)
	pool := e.initPool(owner, "market", treasury.PubKey())
	goblin := e.mint(seller, "goblin")

	_, err := e.run(seller, func(n uint64) (*core.Transaction, error) {
		return seller.ListForSale(pool.ID, goblin, 1_000, n, 0)
	})
	require.NoError(t, err)

	var bought []events.Event
	e.emitter.Subscribe(events.EventBuy, func(ev events.Event) { bought = append(bought, ev) })

	_, err = e.run(buyer, func(n uint64) (*core.Transaction, error) {
		return buyer.Buy(pool.ID, 0, "", n, 0)
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), e.balance(core.NativeAsset, buyer.PubKey()))
	assert.Equal(t, uint64(950), e.balance(core.NativeAsset, pool.Authority))
	assert.Equal(t, uint64(50), e.balance(core.NativeAsset, treasury.PubKey()))
	assert.Equal(t, uint64(1), e.balance(goblin, buyer.PubKey()))
	assert.True(t, e.pool(pool.ID).Listings[0].Redeemed)

	require.Len(t, bought, 1)
	assert.Equal(t, uint64(50), bought[0].Data["fee"])
	assert.Equal(t, uint64(950), bought[0].Data["net"])

	_, err = e.run(buyer, func(n uint64) (*core.Transaction, error) {
		return buyer.Buy(pool.ID, 0, "", n, 0)
	})
	assert.ErrorIs(t, err, stakepool.ErrNFTRedeemed)
}

var errInjected = errors.New("injected failure")

type failOn struct {
	next  stakepool.Custody
	asset string
}

func (f failOn) Transfer(asset, from, to string, amount uint64, auth core.Authority) error {
	if asset == f.asset {
		return errInjected
	}
	return f.next.Transfer(asset, from, to, amount, auth)
}

func TestBuyFailureIsAtomic(t *testing.T) {
	var failAsset string
	e := newEnv(t, vm.WithCustodyWrapper(func(c stakepool.Custody) stakepool.Custody {
		return failOn{next: c, asset: failAsset}
	}))
	owner := e.wallet(0)
	seller := e.wallet(0)
	buyer := e.wallet(2_000)
	pool := e.initPool(owner, "market", "")
	goblin := e.mint(seller, "goblin")
	_, err := e.run(seller, func(n uint64) (*core.Transaction, error) {
		return seller.ListForSale(pool.ID, goblin, 1_000, n, 0)
	})
	require.NoError(t, err)

	var transfers []events.Event
	e.emitter.Subscribe(events.EventAssetTransfer, func(ev events.Event) { transfers = append(transfers, ev) })
	rootBefore := e.state.ComputeRoot()

	// Both payment legs succeed, then the collectible leg fails.
	failAsset = goblin
	_, err = e.run(buyer, func(n uint64) (*core.Transaction, error) {
		return buyer.Buy(pool.ID, 0, "", n, 3)
	})
	assert.ErrorIs(t, err, errInjected)
	assert.ErrorIs(t, err, stakepool.ErrTransferFailed)

	assert.Equal(t, rootBefore, e.state.ComputeRoot())
	assert.Equal(t, uint64(2_000), e.balance(core.NativeAsset, buyer.PubKey()))
	assert.Equal(t, uint64(0), e.balance(core.NativeAsset, pool.Authority))
	assert.Equal(t, uint64(1), e.balance(goblin, pool.Authority))
	assert.False(t, e.pool(pool.ID).Listings[0].Redeemed)
	assert.Empty(t, transfers, "no event may escape a reverted transaction")
}

func TestExecuteTxIntoRoutesEvents(t *testing.T) {
	e := newEnv(t)
	var published int
	e.emitter.Subscribe(events.EventAssetTransfer, func(events.Event) { published++ })
	alice := e.wallet(100)
	bob := e.wallet(0)

	tx, err := alice.Transfer("", bob.PubKey(), 10, 0, 0)
	require.NoError(t, err)
	buf := &events.Buffer{}
	require.NoError(t, e.exec.ExecuteTxInto(e.block(), tx, buf))

	assert.Zero(t, published)
	require.Len(t, buf.Events(), 2)
	assert.Equal(t, events.EventAssetTransfer, buf.Events()[0].Type)
	assert.Equal(t, events.EventTxExecuted, buf.Events()[1].Type)

	buf.Flush(e.emitter)
	assert.Equal(t, 1, published)
}

func TestNonceGap(t *testing.T) {
	e := newEnv(t)
	alice := e.wallet(100)

	ahead, err := alice.Transfer("", alice.PubKey(), 1, 3, 0)
	require.NoError(t, err)
	gap, err := e.exec.NonceGap(ahead)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), gap)

	_, err = e.run(alice, func(n uint64) (*core.Transaction, error) {
		return alice.Transfer("", alice.PubKey(), 1, n, 0)
	})
	require.NoError(t, err)

	past, err := alice.Transfer("", alice.PubKey(), 1, 0, 0)
	require.NoError(t, err)
	gap, err = e.exec.NonceGap(past)
	require.NoError(t, err)
	assert.Zero(t, gap)

	gap, err = e.exec.NonceGap(ahead)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gap)
}
