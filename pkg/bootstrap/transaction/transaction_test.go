package transaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
	"github.com/qbitflow/bootstrap/pkg/solana"
	"github.com/qbitflow/bootstrap/pkg/solana/computebudget"
	"github.com/qbitflow/bootstrap/pkg/solana/memory"
	"github.com/qbitflow/bootstrap/pkg/solana/system"
	"github.com/qbitflow/bootstrap/pkg/solana/token"
)

func TestMakeTransaction(t *testing.T) {
	payer := newAccount(t)
	mint := newAccount(t)
	ixn := token.InitializeMint(mint.PublicKey().ToBytes(), payer.PublicKey().ToBytes(), nil, 6)

	_, _, err := MakeTransaction(payer.PublicKey().ToBytes(), solana.Blockhash{}, Options{}, "create-mint")
	assert.Error(t, err)

	txn, offset, err := MakeTransaction(payer.PublicKey().ToBytes(), solana.Blockhash{1}, Options{}, "create-mint", ixn)
	require.NoError(t, err)
	assert.Zero(t, offset)
	assert.Len(t, txn.Message.Instructions, 1)
	assert.Equal(t, solana.Blockhash{1}, txn.Message.RecentBlockhash)

	opts := Options{
		RunID:            "run",
		ComputeUnitLimit: 200_000,
		ComputeUnitPrice: 1_000,
	}
	txn, offset, err = MakeTransaction(payer.PublicKey().ToBytes(), solana.Blockhash{1}, opts, "create-mint", ixn)
	require.NoError(t, err)
	assert.Equal(t, 2, offset)
	require.Len(t, txn.Message.Instructions, 4)
	assert.True(t, computebudget.IsComputeBudgetInstruction(txn.Message, 0))
	assert.True(t, computebudget.IsComputeBudgetInstruction(txn.Message, 1))
	assert.Equal(t, []byte("qbitflow-bootstrap:create-mint:run"), txn.Message.Instructions[3].Data)
}

func TestSubmit_Success(t *testing.T) {
	ledger := memory.New()
	payer := newAccount(t)
	mint := newAccount(t)
	ledger.SetBalance(payer.PublicKey().ToBytes(), 1_000_000_000)

	submitter := NewSubmitter(ledger, Options{RunID: "run-1", ComputeUnitPrice: 10})
	sig, err := submitter.Submit(
		context.Background(),
		"create-mint",
		payer,
		[]*common.Account{mint},
		system.CreateAccount(payer.PublicKey().ToBytes(), mint.PublicKey().ToBytes(), token.ProgramKey, memory.RentExemption(token.MintSize), token.MintSize),
		token.InitializeMint(mint.PublicKey().ToBytes(), payer.PublicKey().ToBytes(), payer.PublicKey().ToBytes(), 6),
	)
	require.NoError(t, err)

	status, err := ledger.GetSignatureStatus(sig, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Nil(t, status.ErrorResult)
	assert.Equal(t, []string{"qbitflow-bootstrap:create-mint:run-1"}, ledger.Memos())

	actual, err := token.NewClient(ledger).GetMint(mint.PublicKey().ToBytes(), solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 6, actual.Decimals)
}

func TestSubmit_Failure(t *testing.T) {
	ledger := memory.New()
	payer := newAccount(t)
	mint := newAccount(t)
	ledger.SetBalance(payer.PublicKey().ToBytes(), 1_000_000_000)

	create := system.CreateAccount(payer.PublicKey().ToBytes(), mint.PublicKey().ToBytes(), token.ProgramKey, memory.RentExemption(token.MintSize), token.MintSize)
	_, err := NewSubmitter(ledger, Options{}).Submit(context.Background(), "create-mint", payer, []*common.Account{mint}, create)
	require.NoError(t, err)

	// The address is now in use, so the create instruction fails. With a
	// priority fee the caller's instruction is at index 2 in the transaction.
	submitter := NewSubmitter(ledger, Options{RunID: "run-2", ComputeUnitLimit: 1, ComputeUnitPrice: 1})
	_, err = submitter.Submit(context.Background(), "create-mint", payer, []*common.Account{mint}, create)
	require.Error(t, err)

	failure, ok := err.(*Failure)
	require.True(t, ok)
	customErr, ok := failure.CustomErrorAt(0)
	require.True(t, ok)
	assert.Equal(t, system.ErrorAccountAlreadyInUse, customErr)

	_, ok = failure.CustomErrorAt(1)
	assert.False(t, ok)

	// Memos of failed transactions are not recorded.
	assert.Empty(t, ledger.Memos())
}

func TestSubmit_Rejected(t *testing.T) {
	ledger := memory.New()
	payer := newAccount(t)
	mint := newAccount(t)

	_, err := NewSubmitter(ledger, Options{}).Submit(
		context.Background(),
		"create-mint",
		payer,
		[]*common.Account{mint},
		system.CreateAccount(payer.PublicKey().ToBytes(), mint.PublicKey().ToBytes(), token.ProgramKey, 1, token.MintSize),
	)
	require.Error(t, err)

	failure, ok := err.(*Failure)
	require.True(t, ok)
	assert.Equal(t, solana.TransactionErrorInsufficientFundsForFee, failure.Err.ErrorKey())
}

func TestSubmit_Cancelled(t *testing.T) {
	ledger := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSubmitter(ledger, Options{}).Submit(ctx, "create-mint", newAccount(t), nil, token.MintTo(nil, nil, nil, 1))
	assert.Equal(t, context.Canceled, err)
	assert.Zero(t, ledger.Transactions())
}

func newAccount(t *testing.T) *common.Account {
	account, err := common.NewRandomAccount()
	require.NoError(t, err)
	return account
}
