package computebudget

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbitflow/bootstrap/pkg/solana"
)

func TestPriorityFee(t *testing.T) {
	assert.Empty(t, PriorityFee(0, 0))

	instructions := PriorityFee(200_000, 1_000)
	require.Len(t, instructions, 2)

	limit, err := ParseSetComputeUnitLimitIxnData(instructions[0].Data)
	require.NoError(t, err)
	assert.EqualValues(t, 200_000, limit)

	price, err := ParseSetComputeUnitPriceIxnData(instructions[1].Data)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000, price)

	instructions = PriorityFee(0, 5)
	require.Len(t, instructions, 1)
	_, err = ParseSetComputeUnitLimitIxnData(instructions[0].Data)
	assert.Error(t, err)
}

func TestIsComputeBudgetInstruction(t *testing.T) {
	payer, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	other, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	txn := solana.NewTransaction(
		payer,
		SetComputeUnitPrice(10),
		solana.NewInstruction(other, []byte{1}),
	)

	assert.True(t, IsComputeBudgetInstruction(txn.Message, 0))
	assert.False(t, IsComputeBudgetInstruction(txn.Message, 1))
	assert.False(t, IsComputeBudgetInstruction(txn.Message, 2))
}
