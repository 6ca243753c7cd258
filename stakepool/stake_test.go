package stakepool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/custody"
	"github.com/tolelom/tolstake/stakepool"
)

func TestStake(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	f.fund(alice, 250)

	var stake core.StakeInfo
	require.NoError(t, f.atomically(func(p *core.Pool) (err error) {
		stake, err = f.engine.Stake(p, alice, "goblin-1", deposit)
		return err
	}))

	assert.Equal(t, uint64(0), stake.ID)
	assert.Equal(t, alice, stake.Depositor)
	assert.Equal(t, "goblin-1", stake.Collectible)
	assert.Equal(t, f.now, stake.LastUpdateTime)
	assert.Equal(t, deposit, stake.DepositAmount)
	assert.False(t, stake.Claimed)

	assert.Equal(t, uint64(150), f.balance(core.NativeAsset, alice))
	assert.Equal(t, deposit, f.balance(core.NativeAsset, f.pool.Authority))
	assert.Equal(t, uint64(0), f.balance("goblin-1", alice))
	assert.Equal(t, uint64(1), f.balance("goblin-1", f.pool.Authority))

	require.Len(t, f.pool.Stakes, 1)
	assert.Equal(t, uint64(1), f.pool.NextStakeID)
	rank, err := stakepool.RankOf(f.pool, "goblin-1")
	require.NoError(t, err)
	assert.Equal(t, uint8(0), rank)
}

func TestStakeWrongAmount(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	f.fund(alice, 250)

	for _, amount := range []uint64{0, deposit - 1, deposit + 1} {
		err := f.atomically(func(p *core.Pool) error {
			_, err := f.engine.Stake(p, alice, "goblin-1", amount)
			return err
		})
		assert.ErrorIs(t, err, stakepool.ErrInvalidAmount)
	}
	assert.Equal(t, uint64(250), f.balance(core.NativeAsset, alice))
	assert.Empty(t, f.pool.Stakes)
}

func TestStakeInsufficientDeposit(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	f.fund(alice, deposit-1)

	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Stake(p, alice, "goblin-1", deposit)
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrTransferFailed)
	assert.ErrorIs(t, err, custody.ErrInsufficientBalance)
	assert.Equal(t, uint64(1), f.balance("goblin-1", alice))
}

func TestStakeCollectibleNotHeldRevertsDeposit(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", bob)
	f.fund(alice, deposit)

	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Stake(p, alice, "goblin-1", deposit)
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrTransferFailed)
	// The deposit leg succeeded before the collectible leg failed; the
	// snapshot undoes it.
	assert.Equal(t, deposit, f.balance(core.NativeAsset, alice))
	assert.Equal(t, uint64(0), f.balance(core.NativeAsset, f.pool.Authority))
	assert.Empty(t, f.pool.Stakes)
}

func TestUnstake(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	f.fund(alice, deposit)
	stakeOne(t, f, alice, "goblin-1")

	var got core.StakeInfo
	require.NoError(t, f.atomically(func(p *core.Pool) (err error) {
		got, err = f.engine.Unstake(p, alice, 0)
		return err
	}))
	assert.Equal(t, "goblin-1", got.Collectible)
	assert.Empty(t, f.pool.Stakes)
	assert.Equal(t, deposit, f.balance(core.NativeAsset, alice))
	assert.Equal(t, uint64(1), f.balance("goblin-1", alice))
	assert.Equal(t, uint64(0), f.balance(core.NativeAsset, f.pool.Authority))

	// The rank record outlives the stake.
	_, err := stakepool.RankOf(f.pool, "goblin-1")
	assert.NoError(t, err)
}

func TestUnstakeNotDepositor(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	f.fund(alice, deposit)
	stakeOne(t, f, alice, "goblin-1")

	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Unstake(p, bob, 0)
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrNoNFTOwner)
	assert.Len(t, f.pool.Stakes, 1)
	assert.Equal(t, uint64(0), f.balance(core.NativeAsset, bob))
}

func TestUnstakeUnknownID(t *testing.T) {
	f := newFixture(t, testParams)
	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Unstake(p, alice, 7)
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrIndexOutOfRange)
}

func TestStakeIDsSurviveRemoval(t *testing.T) {
	f := newFixture(t, testParams)
	for _, id := range []string{"g0", "g1", "g2"} {
		f.mintCollectible(id, alice)
	}
	f.fund(alice, 3*deposit)
	stakeOne(t, f, alice, "g0")
	stakeOne(t, f, alice, "g1")
	stakeOne(t, f, alice, "g2")

	require.NoError(t, f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Unstake(p, alice, 0)
		return err
	}))

	// Stake 2 is now at position 1 but is still addressed by its id.
	s, err := stakepool.FindStake(f.pool, 2)
	require.NoError(t, err)
	assert.Equal(t, "g2", s.Collectible)

	var got core.StakeInfo
	require.NoError(t, f.atomically(func(p *core.Pool) (err error) {
		got, err = f.engine.Unstake(p, alice, 2)
		return err
	}))
	assert.Equal(t, "g2", got.Collectible)
	require.Len(t, f.pool.Stakes, 1)
	assert.Equal(t, uint64(1), f.pool.Stakes[0].ID)

	// Ids are never reused.
	f.mintCollectible("g3", alice)
	f.fund(alice, deposit)
	s = stakeOne(t, f, alice, "g3")
	assert.Equal(t, uint64(3), s.ID)
}

func TestClaimBeforeHoldDuration(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	f.fund(alice, deposit)
	stakeOne(t, f, alice, "goblin-1")

	f.now += testParams.HoldDuration - 1
	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Claim(p, alice, 0, "")
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrInvalidTime)
	assert.Equal(t, uint64(1), f.balance("goblin-1", f.pool.Authority))
}

func TestClaim(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	f.fund(alice, deposit)
	stakeOne(t, f, alice, "goblin-1")

	// Exactly at the unlock time is allowed.
	f.now += testParams.HoldDuration
	var rank uint8
	require.NoError(t, f.atomically(func(p *core.Pool) (err error) {
		rank, err = f.engine.Claim(p, alice, 0, bob)
		return err
	}))
	assert.Equal(t, uint8(1), rank)
	assert.Equal(t, uint64(1), f.balance("goblin-1", bob))
	assert.Equal(t, uint64(0), f.balance("goblin-1", f.pool.Authority))
	// The deposit stays escrowed.
	assert.Equal(t, deposit, f.balance(core.NativeAsset, f.pool.Authority))

	s, err := stakepool.FindStake(f.pool, 0)
	require.NoError(t, err)
	assert.True(t, s.Claimed)

	err = f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Claim(p, alice, 0, "")
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrAlreadyClaimed)

	// Unstaking a claimed stake returns the deposit only.
	require.NoError(t, f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Unstake(p, alice, 0)
		return err
	}))
	assert.Equal(t, deposit, f.balance(core.NativeAsset, alice))
	assert.Equal(t, uint64(1), f.balance("goblin-1", bob))
	assert.Empty(t, f.pool.Stakes)
}

func TestClaimNotDepositor(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	f.fund(alice, deposit)
	stakeOne(t, f, alice, "goblin-1")
	f.now += testParams.HoldDuration

	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Claim(p, bob, 0, bob)
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrNoNFTOwner)
	assert.Equal(t, uint64(0), f.balance("goblin-1", bob))
}

func TestClaimUnregisteredCollectible(t *testing.T) {
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	f.fund(alice, deposit)
	stakeOne(t, f, alice, "goblin-1")
	f.now += testParams.HoldDuration
	f.pool.NFTs = nil

	err := f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Claim(p, alice, 0, "")
		return err
	})
	assert.ErrorIs(t, err, stakepool.ErrAssetNotRegistered)
	assert.Equal(t, uint64(1), f.balance("goblin-1", f.pool.Authority))
}

func TestRankCappedAtMaxRank(t *testing.T) {
	params := testParams
	params.MaxRank = 2
	f := newFixture(t, params)
	f.mintCollectible("goblin-1", alice)
	f.fund(alice, deposit)

	for i := 0; i < 4; i++ {
		rank := claimRound(t, f, alice, "goblin-1")
		assert.Equal(t, min(uint8(i+1), params.MaxRank), rank)
	}
	require.Len(t, f.pool.NFTs, 1)
	assert.Equal(t, uint8(2), f.pool.NFTs[0].Rank)
}

func TestRankClimbsToDefaultMaxRank(t *testing.T) {
	require.Equal(t, uint8(stakepool.DefaultMaxRank), testParams.MaxRank)
	f := newFixture(t, testParams)
	f.mintCollectible("goblin-1", alice)
	f.fund(alice, deposit)

	var ranks []uint8
	for i := 0; i < 10; i++ {
		ranks = append(ranks, claimRound(t, f, alice, "goblin-1"))
	}
	assert.Equal(t, []uint8{1, 2, 3, 4, 5, 6, 7, 8, 8, 8}, ranks)

	rank, err := stakepool.RankOf(f.pool, "goblin-1")
	require.NoError(t, err)
	assert.Equal(t, uint8(8), rank)
	assert.Equal(t, deposit, f.balance(core.NativeAsset, alice))
	assert.Equal(t, uint64(1), f.balance("goblin-1", alice))
}

// claimRound stakes collectible, waits out the holding period, claims it back
// and unstakes the deposit. It returns the rank after the claim.
func claimRound(t *testing.T, f *fixture, who, collectible string) uint8 {
	t.Helper()
	s := stakeOne(t, f, who, collectible)
	f.now += f.engine.Params().HoldDuration
	var rank uint8
	require.NoError(t, f.atomically(func(p *core.Pool) (err error) {
		rank, err = f.engine.Claim(p, who, s.ID, "")
		return err
	}))
	require.NoError(t, f.atomically(func(p *core.Pool) error {
		_, err := f.engine.Unstake(p, who, s.ID)
		return err
	}))
	return rank
}

func stakeOne(t *testing.T, f *fixture, who, collectible string) core.StakeInfo {
	t.Helper()
	var s core.StakeInfo
	require.NoError(t, f.atomically(func(p *core.Pool) (err error) {
		s, err = f.engine.Stake(p, who, collectible, deposit)
		return err
	}))
	return s
}
