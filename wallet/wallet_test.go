package wallet_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/wallet"
)

func TestKeystoreRoundTrip(t *testing.T) {
	w, err := wallet.Generate("test")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "validator.key")

	require.NoError(t, wallet.SaveKey(path, "hunter2", w.PrivKey()))

	priv, err := wallet.LoadKey(path, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, w.PubKey(), priv.Public().Hex())

	_, err = wallet.LoadKey(path, "wrong")
	assert.ErrorIs(t, err, wallet.ErrWrongPassword)

	_, err = wallet.LoadKey(filepath.Join(t.TempDir(), "missing"), "")
	assert.Error(t, err)
}

func TestBuildersSignForChain(t *testing.T) {
	w, err := wallet.Generate("test")
	require.NoError(t, err)

	build := []func() (*core.Transaction, error){
		func() (*core.Transaction, error) { return w.Transfer("", w.PubKey(), 1, 0, 0) },
		func() (*core.Transaction, error) { return w.MintCollectible("goblin", "", nil, 1, 0) },
		func() (*core.Transaction, error) { return w.InitPool("goblins", "", "", 2, 0) },
		func() (*core.Transaction, error) { return w.Stake("p", "c", 10, 3, 0) },
		func() (*core.Transaction, error) { return w.Unstake("p", 0, 4, 0) },
		func() (*core.Transaction, error) { return w.Claim("p", 0, "", 5, 0) },
		func() (*core.Transaction, error) { return w.ListForSale("p", "c", 10, 6, 0) },
		func() (*core.Transaction, error) { return w.Buy("p", 0, "", 7, 0) },
	}
	for i, b := range build {
		tx, err := b()
		require.NoError(t, err)
		assert.Equal(t, "test", tx.ChainID)
		assert.Equal(t, uint64(i), tx.Nonce)
		assert.Equal(t, w.PubKey(), tx.From)
		require.NoError(t, tx.Verify(), "tx %s", tx.Type)
	}
}

func TestStakePayload(t *testing.T) {
	w, err := wallet.Generate("test")
	require.NoError(t, err)
	tx, err := w.Stake("pool", "goblin", 42, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, core.TxStake, tx.Type)

	var p core.StakePayload
	require.NoError(t, json.Unmarshal(tx.Payload, &p))
	assert.Equal(t, core.StakePayload{PoolID: "pool", Collectible: "goblin", Amount: 42}, p)
}
