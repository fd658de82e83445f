package testutil

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
	"github.com/qbitflow/bootstrap/pkg/solana/memory"
)

func NewRandomAccount(t *testing.T) *common.Account {
	account, err := common.NewRandomAccount()
	require.NoError(t, err)

	return account
}

// NewFundedAccount returns a new account holding lamports on the ledger.
func NewFundedAccount(t *testing.T, ledger *memory.Ledger, lamports uint64) *common.Account {
	account := NewRandomAccount(t)
	ledger.SetBalance(account.PublicKey().ToBytes(), lamports)
	return account
}

func GenerateSolanaKeys(t *testing.T, n int) []ed25519.PublicKey {
	keys := make([]ed25519.PublicKey, n)
	for i := 0; i < n; i++ {
		p, _, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		keys[i] = p
	}
	return keys
}
