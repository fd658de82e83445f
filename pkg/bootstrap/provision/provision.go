package provision

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/config"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/transaction"
	"github.com/qbitflow/bootstrap/pkg/metrics"
	"github.com/qbitflow/bootstrap/pkg/solana"
	"github.com/qbitflow/bootstrap/pkg/solana/system"
	"github.com/qbitflow/bootstrap/pkg/solana/token"
)

const metricsStructName = "provision.provisioner"

var (
	// ErrMintMismatch indicates the mint recorded for a symbol exists on chain
	// but no longer matches its descriptor or payer.
	ErrMintMismatch = errors.New("recorded mint does not match descriptor")
)

// Result describes the provisioned state of a single token.
type Result struct {
	Symbol   string
	Mint     ed25519.PublicKey
	Decimals uint8

	// HoldingAccount is the recipient's associated token account. It is nil
	// when only the mint was provisioned.
	HoldingAccount ed25519.PublicKey
	Balance        uint64
	Credited       uint64

	// Created is set when this run created the mint.
	Created bool

	// Duplicate is set when a mint was created even though one was already
	// recorded for the symbol. PreviousMint holds the recorded mint.
	Duplicate    bool
	PreviousMint ed25519.PublicKey
}

// Provisioner creates token mints, holding accounts and initial balances.
type Provisioner struct {
	log       *logrus.Entry
	sc        solana.Client
	tc        *token.Client
	submitter *transaction.Submitter
	store     resource.Store
	network   string
	mode      config.MintMode
	runID     string
}

func NewProvisioner(
	sc solana.Client,
	submitter *transaction.Submitter,
	store resource.Store,
	network string,
	mode config.MintMode,
	runID string,
) *Provisioner {
	return &Provisioner{
		log:       logrus.StandardLogger().WithField("type", "bootstrap/provision"),
		sc:        sc,
		tc:        token.NewClient(sc),
		submitter: submitter,
		store:     store,
		network:   network,
		mode:      mode,
		runID:     runID,
	}
}

// Provision ensures the token's mint exists, that recipient holds an
// associated token account for it, and that the account holds at least the
// descriptor's initial amount.
//
// Failures are returned as *common.ProvisionError. Resources created before
// the failing step are left in place.
func (p *Provisioner) Provision(ctx context.Context, d config.TokenDescriptor, payer *common.Account, recipient ed25519.PublicKey) (*Result, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Provision")
	tracer.AddAttribute("symbol", d.Symbol)
	defer tracer.End()

	res, err := p.provision(ctx, d, payer, recipient)
	tracer.OnError(err)
	return res, err
}

// EnsureMint provisions only the token's mint.
func (p *Provisioner) EnsureMint(ctx context.Context, d config.TokenDescriptor, payer *common.Account) (*Result, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "EnsureMint")
	tracer.AddAttribute("symbol", d.Symbol)
	defer tracer.End()

	res, err := p.ensureMint(ctx, d, payer)
	tracer.OnError(err)
	return res, err
}

func (p *Provisioner) provision(ctx context.Context, d config.TokenDescriptor, payer *common.Account, recipient ed25519.PublicKey) (*Result, error) {
	res, err := p.ensureMint(ctx, d, payer)
	if err != nil {
		return nil, err
	}

	log := p.log.WithFields(logrus.Fields{
		"symbol":    d.Symbol,
		"mint":      base58.Encode(res.Mint),
		"recipient": base58.Encode(recipient),
	})

	res.HoldingAccount, err = p.ensureHoldingAccount(ctx, d.Symbol, res.Mint, payer, recipient)
	if err != nil {
		return nil, err
	}
	log = log.WithField("holding_account", base58.Encode(res.HoldingAccount))

	res.Credited, err = p.credit(ctx, d, res.Mint, res.HoldingAccount, payer)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, stepError(d.Symbol, common.ProvisionStepBalance, err)
	}
	res.Balance, err = p.sc.GetTokenAccountBalance(res.HoldingAccount)
	if err != nil {
		return nil, stepError(d.Symbol, common.ProvisionStepBalance, errors.Wrap(err, "failed to read holding balance"))
	}

	log.WithFields(logrus.Fields{
		"credited": res.Credited,
		"balance":  res.Balance,
	}).Info("token provisioned")

	return res, nil
}

func (p *Provisioner) ensureMint(ctx context.Context, d config.TokenDescriptor, payer *common.Account) (*Result, error) {
	log := p.log.WithFields(logrus.Fields{
		"symbol":    d.Symbol,
		"mint_mode": p.mode,
	})

	if err := ctx.Err(); err != nil {
		return nil, stepError(d.Symbol, common.ProvisionStepLookup, err)
	}

	record, err := p.store.Get(ctx, p.network, d.Symbol)
	if err == resource.ErrNotFound {
		record = nil
	} else if err != nil {
		return nil, stepError(d.Symbol, common.ProvisionStepLookup, errors.Wrapf(common.ErrStorage, "failed to read resource registry: %v", err))
	}

	res := &Result{
		Symbol:   d.Symbol,
		Decimals: d.Decimals,
	}

	if record != nil {
		recorded, err := base58.Decode(record.Mint)
		if err != nil || len(recorded) != ed25519.PublicKeySize {
			return nil, stepError(d.Symbol, common.ProvisionStepLookup, errors.Wrapf(common.ErrStorage, "invalid mint %q in resource registry", record.Mint))
		}

		switch p.mode {
		case config.MintModeAlwaysCreate:
			res.Duplicate = true
			res.PreviousMint = recorded
			log.WithField("previous_mint", record.Mint).Warn("mint already recorded for symbol, creating a duplicate")

		default:
			reuse, err := p.verifyRecordedMint(d, recorded, payer)
			if err != nil {
				return nil, stepError(d.Symbol, common.ProvisionStepLookup, err)
			}
			if reuse {
				log.WithField("mint", record.Mint).Info("reusing recorded mint")
				res.Mint = recorded
				return res, nil
			}
			log.WithField("previous_mint", record.Mint).Warn("recorded mint no longer exists, creating a new one")
		}
	}

	res.Mint, err = p.createMint(ctx, d, payer)
	if err != nil {
		return nil, err
	}
	res.Created = true

	log.WithField("mint", base58.Encode(res.Mint)).Info("mint created")
	return res, nil
}

// verifyRecordedMint returns whether the recorded mint can be reused. A mint
// missing on chain is not reusable. A mint that exists but differs from the
// descriptor is an error.
func (p *Provisioner) verifyRecordedMint(d config.TokenDescriptor, recorded ed25519.PublicKey, payer *common.Account) (bool, error) {
	mint, err := p.tc.GetMint(recorded, solana.CommitmentConfirmed)
	switch err {
	case nil:
	case token.ErrAccountNotFound:
		return false, nil
	case token.ErrInvalidMint:
		return false, errors.Wrapf(ErrMintMismatch, "%s is not an initialized token mint", base58.Encode(recorded))
	default:
		return false, errors.Wrap(err, "failed to get recorded mint")
	}

	if mint.Decimals != d.Decimals {
		return false, errors.Wrapf(ErrMintMismatch, "mint %s has %d decimals, expected %d", base58.Encode(recorded), mint.Decimals, d.Decimals)
	}
	if !bytes.Equal(mint.MintAuthority, payer.PublicKey().ToBytes()) {
		return false, errors.Wrapf(ErrMintMismatch, "mint %s authority is %s, expected %s", base58.Encode(recorded), base58.Encode(mint.MintAuthority), payer.PublicKey().ToBase58())
	}

	return true, nil
}

func (p *Provisioner) createMint(ctx context.Context, d config.TokenDescriptor, payer *common.Account) (ed25519.PublicKey, error) {
	mint, err := common.NewRandomAccount()
	if err != nil {
		return nil, stepError(d.Symbol, common.ProvisionStepMint, err)
	}
	mintKey := ed25519.PublicKey(mint.PublicKey().ToBytes())
	payerKey := ed25519.PublicKey(payer.PublicKey().ToBytes())

	rent, err := p.sc.GetMinimumBalanceForRentExemption(token.MintSize)
	if err != nil {
		return nil, stepError(d.Symbol, common.ProvisionStepMint, errors.Wrap(err, "failed to get rent exemption"))
	}

	_, err = p.submitter.Submit(
		ctx,
		string(common.ProvisionStepMint),
		payer,
		[]*common.Account{mint},
		system.CreateAccount(payerKey, mintKey, token.ProgramKey, rent, token.MintSize),
		token.InitializeMint(mintKey, payerKey, payerKey, d.Decimals),
	)
	if err != nil {
		return nil, stepError(d.Symbol, common.ProvisionStepMint, err)
	}

	record := &resource.Record{
		Network:   p.network,
		Symbol:    d.Symbol,
		Mint:      mint.PublicKey().ToBase58(),
		Decimals:  d.Decimals,
		Authority: payer.PublicKey().ToBase58(),
		RunID:     p.runID,
	}
	if err := p.store.Save(ctx, record); err != nil {
		return nil, stepError(d.Symbol, common.ProvisionStepMint, errors.Wrapf(common.ErrStorage, "mint %s created but not recorded: %v", record.Mint, err))
	}

	return mintKey, nil
}

func (p *Provisioner) ensureHoldingAccount(ctx context.Context, symbol string, mint ed25519.PublicKey, payer *common.Account, recipient ed25519.PublicKey) (ed25519.PublicKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, stepError(symbol, common.ProvisionStepHolding, err)
	}

	ata, err := token.GetAssociatedAccount(recipient, mint)
	if err != nil {
		return nil, stepError(symbol, common.ProvisionStepHolding, errors.Wrap(err, "failed to derive associated token account"))
	}

	_, err = p.tc.GetAccount(ata, mint, solana.CommitmentConfirmed)
	switch err {
	case nil:
		return ata, nil
	case token.ErrAccountNotFound:
	default:
		return nil, stepError(symbol, common.ProvisionStepHolding, errors.Wrapf(err, "unusable holding account %s", base58.Encode(ata)))
	}

	ixn, _, err := token.CreateAssociatedTokenAccountIdempotent(payer.PublicKey().ToBytes(), recipient, mint)
	if err != nil {
		return nil, stepError(symbol, common.ProvisionStepHolding, err)
	}

	if _, err := p.submitter.Submit(ctx, string(common.ProvisionStepHolding), payer, nil, ixn); err != nil {
		return nil, stepError(symbol, common.ProvisionStepHolding, err)
	}

	p.log.WithFields(logrus.Fields{
		"symbol":          symbol,
		"holding_account": base58.Encode(ata),
	}).Debug("holding account created")

	return ata, nil
}

// credit mints the difference between the target amount and the current
// balance, returning the amount minted.
func (p *Provisioner) credit(ctx context.Context, d config.TokenDescriptor, mint, holding ed25519.PublicKey, payer *common.Account) (uint64, error) {
	target, err := d.TargetUnits()
	if err != nil {
		return 0, stepError(d.Symbol, common.ProvisionStepCredit, err)
	}

	if err := ctx.Err(); err != nil {
		return 0, stepError(d.Symbol, common.ProvisionStepCredit, err)
	}

	current, err := p.sc.GetTokenAccountBalance(holding)
	if err != nil {
		return 0, stepError(d.Symbol, common.ProvisionStepCredit, errors.Wrap(err, "failed to read holding balance"))
	}
	if current >= target {
		return 0, nil
	}

	amount := target - current
	_, err = p.submitter.Submit(
		ctx,
		string(common.ProvisionStepCredit),
		payer,
		nil,
		token.MintTo(mint, holding, payer.PublicKey().ToBytes(), amount),
	)
	if err != nil {
		return 0, stepError(d.Symbol, common.ProvisionStepCredit, err)
	}

	return amount, nil
}

func stepError(symbol string, step common.ProvisionStep, err error) error {
	return &common.ProvisionError{
		Symbol: symbol,
		Step:   step,
		Err:    err,
	}
}
