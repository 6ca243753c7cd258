package crypto

import (
	"encoding/hex"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// vaultProgram is the namespace vault authorities are derived under. Derived
// addresses are off the ed25519 curve, so no private key can sign for them.
var vaultProgram = solana.PublicKeyFromBytes(HashBytes([]byte("tolstake/stakepool/vault")))

// FindVaultAuthority searches for the first nonce that yields a valid vault
// address for poolID and returns both. Pools store the nonce so the address
// can be re-derived without searching.
func FindVaultAuthority(poolID string) (string, uint8, error) {
	seed, err := DecodeHash(poolID)
	if err != nil {
		return "", 0, fmt.Errorf("pool id: %w", err)
	}
	addr, nonce, err := solana.FindProgramAddress([][]byte{seed}, vaultProgram)
	if err != nil {
		return "", 0, fmt.Errorf("find vault authority: %w", err)
	}
	return hex.EncodeToString(addr.Bytes()), nonce, nil
}

// VaultAuthority derives the vault address of poolID for a known nonce.
func VaultAuthority(poolID string, nonce uint8) (string, error) {
	seed, err := DecodeHash(poolID)
	if err != nil {
		return "", fmt.Errorf("pool id: %w", err)
	}
	addr, err := solana.CreateProgramAddress([][]byte{seed, {nonce}}, vaultProgram)
	if err != nil {
		return "", fmt.Errorf("derive vault authority: %w", err)
	}
	return hex.EncodeToString(addr.Bytes()), nil
}
