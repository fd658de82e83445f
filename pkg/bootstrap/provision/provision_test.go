package provision

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/config"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource"
	resource_memory "github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource/memory"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/transaction"
	"github.com/qbitflow/bootstrap/pkg/solana"
	"github.com/qbitflow/bootstrap/pkg/solana/memory"
	"github.com/qbitflow/bootstrap/pkg/solana/token"
	"github.com/qbitflow/bootstrap/pkg/testutil"
)

const network = "http://127.0.0.1:8899"

type testEnv struct {
	ledger    *memory.Ledger
	store     resource.Store
	payer     *common.Account
	recipient ed25519.PublicKey
}

func setup(t *testing.T) *testEnv {
	testutil.QuietLogs(t)

	ledger := memory.New()
	return &testEnv{
		ledger:    ledger,
		store:     resource_memory.New(),
		payer:     testutil.NewFundedAccount(t, ledger, 10_000_000_000),
		recipient: testutil.NewRandomAccount(t).PublicKey().ToBytes(),
	}
}

func (e *testEnv) provisioner(mode config.MintMode, runID string) *Provisioner {
	submitter := transaction.NewSubmitter(e.ledger, transaction.Options{RunID: runID})
	return NewProvisioner(e.ledger, submitter, e.store, network, mode, runID)
}

func usdc() config.TokenDescriptor {
	return config.DefaultTokens()[0]
}

func TestProvision_Fresh(t *testing.T) {
	env := setup(t)

	res, err := env.provisioner(config.MintModeCreateIfAbsent, "run-1").Provision(context.Background(), usdc(), env.payer, env.recipient)
	require.NoError(t, err)

	assert.Equal(t, "USDC", res.Symbol)
	assert.True(t, res.Created)
	assert.False(t, res.Duplicate)
	assert.EqualValues(t, 1_000_000_000, res.Balance)
	assert.EqualValues(t, 1_000_000_000, res.Credited)

	expectedATA, err := token.GetAssociatedAccount(env.recipient, res.Mint)
	require.NoError(t, err)
	assert.EqualValues(t, expectedATA, res.HoldingAccount)

	mint, err := token.NewClient(env.ledger).GetMint(res.Mint, solana.CommitmentConfirmed)
	require.NoError(t, err)
	assert.EqualValues(t, 6, mint.Decimals)
	assert.EqualValues(t, env.payer.PublicKey().ToBytes(), mint.MintAuthority)
	assert.EqualValues(t, env.payer.PublicKey().ToBytes(), mint.FreezeAuthority)
	assert.EqualValues(t, 1_000_000_000, mint.Supply)

	record, err := env.store.Get(context.Background(), network, "USDC")
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(res.Mint), record.Mint)
	assert.Equal(t, env.payer.PublicKey().ToBase58(), record.Authority)
	assert.Equal(t, "run-1", record.RunID)

	assert.Equal(t, []string{
		"qbitflow-bootstrap:create-mint:run-1",
		"qbitflow-bootstrap:holding-account:run-1",
		"qbitflow-bootstrap:credit:run-1",
	}, env.ledger.Memos())
}

func TestProvision_CreateIfAbsentReuses(t *testing.T) {
	env := setup(t)

	first, err := env.provisioner(config.MintModeCreateIfAbsent, "run-1").Provision(context.Background(), usdc(), env.payer, env.recipient)
	require.NoError(t, err)
	transactions := env.ledger.Transactions()

	second, err := env.provisioner(config.MintModeCreateIfAbsent, "run-2").Provision(context.Background(), usdc(), env.payer, env.recipient)
	require.NoError(t, err)

	assert.Equal(t, first.Mint, second.Mint)
	assert.Equal(t, first.HoldingAccount, second.HoldingAccount)
	assert.False(t, second.Created)
	assert.False(t, second.Duplicate)
	assert.Zero(t, second.Credited)
	assert.EqualValues(t, 1_000_000_000, second.Balance)
	assert.Equal(t, transactions, env.ledger.Transactions())

	record, err := env.store.Get(context.Background(), network, "USDC")
	require.NoError(t, err)
	assert.Equal(t, "run-1", record.RunID)
}

func TestProvision_AlwaysCreateDuplicates(t *testing.T) {
	env := setup(t)

	first, err := env.provisioner(config.MintModeAlwaysCreate, "run-1").Provision(context.Background(), usdc(), env.payer, env.recipient)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := env.provisioner(config.MintModeAlwaysCreate, "run-2").Provision(context.Background(), usdc(), env.payer, env.recipient)
	require.NoError(t, err)

	assert.NotEqual(t, first.Mint, second.Mint)
	assert.NotEqual(t, first.HoldingAccount, second.HoldingAccount)
	assert.True(t, second.Created)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Mint, second.PreviousMint)
	assert.EqualValues(t, 1_000_000_000, second.Balance)

	record, err := env.store.Get(context.Background(), network, "USDC")
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(second.Mint), record.Mint)
}

func TestProvision_RecordedMintMissing(t *testing.T) {
	env := setup(t)

	first, err := env.provisioner(config.MintModeCreateIfAbsent, "run-1").Provision(context.Background(), usdc(), env.payer, env.recipient)
	require.NoError(t, err)

	// Simulates a reset local validator.
	env.ledger.DeleteAccount(first.Mint)
	env.ledger.DeleteAccount(first.HoldingAccount)

	second, err := env.provisioner(config.MintModeCreateIfAbsent, "run-2").Provision(context.Background(), usdc(), env.payer, env.recipient)
	require.NoError(t, err)
	assert.NotEqual(t, first.Mint, second.Mint)
	assert.True(t, second.Created)
	assert.False(t, second.Duplicate)
	assert.EqualValues(t, 1_000_000_000, second.Balance)

	record, err := env.store.Get(context.Background(), network, "USDC")
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(second.Mint), record.Mint)
	assert.Equal(t, "run-2", record.RunID)
}

func TestProvision_RecordedMintMismatch(t *testing.T) {
	env := setup(t)

	_, err := env.provisioner(config.MintModeCreateIfAbsent, "run-1").Provision(context.Background(), usdc(), env.payer, env.recipient)
	require.NoError(t, err)

	changed := usdc()
	changed.Decimals = 9
	_, err = env.provisioner(config.MintModeCreateIfAbsent, "run-2").Provision(context.Background(), changed, env.payer, env.recipient)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMintMismatch)

	var provisionErr *common.ProvisionError
	require.True(t, errors.As(err, &provisionErr))
	assert.Equal(t, "USDC", provisionErr.Symbol)
	assert.Equal(t, common.ProvisionStepLookup, provisionErr.Step)

	otherPayer, err := common.NewRandomAccount()
	require.NoError(t, err)
	_, err = env.provisioner(config.MintModeCreateIfAbsent, "run-3").Provision(context.Background(), usdc(), otherPayer, env.recipient)
	assert.ErrorIs(t, err, ErrMintMismatch)
}

func TestProvision_TopUpToTarget(t *testing.T) {
	env := setup(t)

	_, err := env.provisioner(config.MintModeCreateIfAbsent, "run-1").Provision(context.Background(), usdc(), env.payer, env.recipient)
	require.NoError(t, err)

	larger := usdc()
	larger.InitialAmount = decimal.RequireFromString("1500.5")
	res, err := env.provisioner(config.MintModeCreateIfAbsent, "run-2").Provision(context.Background(), larger, env.payer, env.recipient)
	require.NoError(t, err)
	assert.EqualValues(t, 500_500_000, res.Credited)
	assert.EqualValues(t, 1_500_500_000, res.Balance)

	// Lowering the target never burns tokens.
	res, err = env.provisioner(config.MintModeCreateIfAbsent, "run-3").Provision(context.Background(), usdc(), env.payer, env.recipient)
	require.NoError(t, err)
	assert.Zero(t, res.Credited)
	assert.EqualValues(t, 1_500_500_000, res.Balance)
}

func TestProvision_ExistingHoldingAccount(t *testing.T) {
	env := setup(t)
	p := env.provisioner(config.MintModeCreateIfAbsent, "run-1")

	mint, err := p.EnsureMint(context.Background(), usdc(), env.payer)
	require.NoError(t, err)

	ixn, ata, err := token.CreateAssociatedTokenAccountIdempotent(env.payer.PublicKey().ToBytes(), env.recipient, mint.Mint)
	require.NoError(t, err)
	_, err = transaction.NewSubmitter(env.ledger, transaction.Options{}).Submit(context.Background(), "setup", env.payer, nil, ixn)
	require.NoError(t, err)

	res, err := p.Provision(context.Background(), usdc(), env.payer, env.recipient)
	require.NoError(t, err)
	assert.EqualValues(t, ata, res.HoldingAccount)
	assert.EqualValues(t, 1_000_000_000, res.Balance)
}

func TestProvision_Failures(t *testing.T) {
	t.Run("unfunded payer", func(t *testing.T) {
		env := setup(t)
		unfunded, err := common.NewRandomAccount()
		require.NoError(t, err)

		_, err = env.provisioner(config.MintModeCreateIfAbsent, "run-1").Provision(context.Background(), usdc(), unfunded, env.recipient)
		require.Error(t, err)

		var provisionErr *common.ProvisionError
		require.True(t, errors.As(err, &provisionErr))
		assert.Equal(t, common.ProvisionStepMint, provisionErr.Step)

		_, err = env.store.Get(context.Background(), network, "USDC")
		assert.Equal(t, resource.ErrNotFound, err)
	})

	t.Run("invalid amount", func(t *testing.T) {
		env := setup(t)
		invalid := usdc()
		invalid.InitialAmount = decimal.RequireFromString("0.0000001")

		res, err := env.provisioner(config.MintModeCreateIfAbsent, "run-1").Provision(context.Background(), invalid, env.payer, env.recipient)
		require.Error(t, err)
		assert.Nil(t, res)

		var provisionErr *common.ProvisionError
		require.True(t, errors.As(err, &provisionErr))
		assert.Equal(t, common.ProvisionStepCredit, provisionErr.Step)

		// Earlier steps are not rolled back.
		_, err = env.store.Get(context.Background(), network, "USDC")
		assert.NoError(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		env := setup(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := env.provisioner(config.MintModeCreateIfAbsent, "run-1").Provision(ctx, usdc(), env.payer, env.recipient)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, env.ledger.Transactions())
	})
}

func TestEnsureMint(t *testing.T) {
	env := setup(t)
	p := env.provisioner(config.MintModeCreateIfAbsent, "run-1")

	for _, d := range config.DefaultTokens() {
		res, err := p.EnsureMint(context.Background(), d, env.payer)
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Nil(t, res.HoldingAccount)
		assert.Zero(t, res.Balance)
	}

	records, err := env.store.GetAllByNetwork(context.Background(), network)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "USDC", records[0].Symbol)
	assert.EqualValues(t, 6, records[0].Decimals)
	assert.Equal(t, "WSOL", records[1].Symbol)
	assert.EqualValues(t, 9, records[1].Decimals)
}
