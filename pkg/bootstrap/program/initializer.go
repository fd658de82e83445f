package program

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/transaction"
	"github.com/qbitflow/bootstrap/pkg/metrics"
	"github.com/qbitflow/bootstrap/pkg/solana"
	"github.com/qbitflow/bootstrap/pkg/solana/paymentsystem"
	"github.com/qbitflow/bootstrap/pkg/solana/system"
)

const metricsStructName = "program.initializer"

var (
	// ErrAuthorityNotFound indicates the program has not been initialized.
	ErrAuthorityNotFound = errors.New("authority account not found")
)

// AuthorityResult is the decoded authority record of the payment program.
type AuthorityResult struct {
	Address  ed25519.PublicKey
	Bump     uint8
	Owner    ed25519.PublicKey
	CoSigner ed25519.PublicKey

	// AlreadyInitialized is set when the record existed before this call.
	AlreadyInitialized bool
}

// Initializer performs the one-time setup of the payment program.
type Initializer struct {
	log       *logrus.Entry
	sc        solana.Client
	submitter *transaction.Submitter
}

func NewInitializer(sc solana.Client, submitter *transaction.Submitter) *Initializer {
	return &Initializer{
		log:       logrus.StandardLogger().WithField("type", "bootstrap/program"),
		sc:        sc,
		submitter: submitter,
	}
}

// InitializeAuthority creates the program's authority record with deployer
// as owner and coSigner as co-signer.
//
// If the record already exists it is returned together with
// common.ErrAlreadyInitialized, and nothing is submitted.
func (i *Initializer) InitializeAuthority(ctx context.Context, programID ed25519.PublicKey, deployer *common.Account, coSigner ed25519.PublicKey) (*AuthorityResult, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "InitializeAuthority")
	defer tracer.End()

	res, err := i.initializeAuthority(ctx, programID, deployer, coSigner)
	if err != common.ErrAlreadyInitialized {
		tracer.OnError(err)
	}
	return res, err
}

func (i *Initializer) initializeAuthority(ctx context.Context, programID ed25519.PublicKey, deployer *common.Account, coSigner ed25519.PublicKey) (*AuthorityResult, error) {
	if len(coSigner) != ed25519.PublicKeySize {
		return nil, errors.Errorf("invalid co-signer length: %d", len(coSigner))
	}

	log := i.log.WithFields(logrus.Fields{
		"program":   base58.Encode(programID),
		"co_signer": base58.Encode(coSigner),
	})

	existing, err := i.GetAuthority(ctx, programID)
	switch err {
	case nil:
		existing.AlreadyInitialized = true
		i.warnOnCoSignerMismatch(log, existing, coSigner)
		return existing, common.ErrAlreadyInitialized
	case ErrAuthorityNotFound:
	default:
		return nil, err
	}

	authority, _, err := paymentsystem.GetAuthorityAddress(programID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive authority address")
	}

	ixn := paymentsystem.NewInitializeInstruction(
		programID,
		&paymentsystem.InitializeInstructionAccounts{
			Authority: authority,
			Signer:    deployer.PublicKey().ToBytes(),
		},
		&paymentsystem.InitializeInstructionArgs{
			CoSigner: coSigner,
		},
	)

	sig, err := i.submitter.Submit(ctx, "initialize", deployer, nil, ixn)
	if failure, ok := err.(*transaction.Failure); ok {
		if custom, ok := failure.CustomErrorAt(0); ok && custom == system.ErrorAccountAlreadyInUse {
			// Initialized by someone else since the record was checked.
			existing, err := i.GetAuthority(ctx, programID)
			if err != nil {
				return nil, err
			}
			existing.AlreadyInitialized = true
			i.warnOnCoSignerMismatch(log, existing, coSigner)
			return existing, common.ErrAlreadyInitialized
		}
		return nil, programError(failure)
	} else if err != nil {
		return nil, err
	}

	res, err := i.GetAuthority(ctx, programID)
	if err != nil {
		return nil, errors.Wrapf(err, "initialize %s confirmed but authority unreadable", sig)
	}

	log.WithFields(logrus.Fields{
		"authority": base58.Encode(res.Address),
		"signature": sig.String(),
	}).Info("program initialized")

	return res, nil
}

// UpdateOwner transfers ownership of the authority record to newOwner. The
// current owner pays for the transaction, and both it and the co-signer sign.
func (i *Initializer) UpdateOwner(ctx context.Context, programID ed25519.PublicKey, owner, coSigner *common.Account, newOwner ed25519.PublicKey) (*AuthorityResult, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "UpdateOwner")
	defer tracer.End()

	res, err := i.updateOwner(ctx, programID, owner, coSigner, newOwner)
	tracer.OnError(err)
	return res, err
}

func (i *Initializer) updateOwner(ctx context.Context, programID ed25519.PublicKey, owner, coSigner *common.Account, newOwner ed25519.PublicKey) (*AuthorityResult, error) {
	if len(newOwner) != ed25519.PublicKeySize {
		return nil, errors.Errorf("invalid new owner length: %d", len(newOwner))
	}

	current, err := i.GetAuthority(ctx, programID)
	if err != nil {
		return nil, err
	}

	ixn := paymentsystem.NewUpdateOwnerInstruction(
		programID,
		&paymentsystem.UpdateOwnerInstructionAccounts{
			Authority: current.Address,
			Owner:     owner.PublicKey().ToBytes(),
			CoSigner:  coSigner.PublicKey().ToBytes(),
		},
		&paymentsystem.UpdateOwnerInstructionArgs{
			NewOwner: newOwner,
		},
	)

	var signers []*common.Account
	if !bytes.Equal(owner.PublicKey().ToBytes(), coSigner.PublicKey().ToBytes()) {
		signers = append(signers, coSigner)
	}

	sig, err := i.submitter.Submit(ctx, "update-owner", owner, signers, ixn)
	if failure, ok := err.(*transaction.Failure); ok {
		return nil, programError(failure)
	} else if err != nil {
		return nil, err
	}

	res, err := i.GetAuthority(ctx, programID)
	if err != nil {
		return nil, err
	}

	i.log.WithFields(logrus.Fields{
		"program":   base58.Encode(programID),
		"owner":     base58.Encode(res.Owner),
		"signature": sig.String(),
	}).Info("program owner updated")

	return res, nil
}

// GetAuthority fetches and decodes the program's authority record.
func (i *Initializer) GetAuthority(ctx context.Context, programID ed25519.PublicKey) (*AuthorityResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	address, bump, err := paymentsystem.GetAuthorityAddress(programID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive authority address")
	}

	info, err := i.sc.GetAccountInfo(address, solana.CommitmentConfirmed)
	if err == solana.ErrNoAccountInfo {
		return nil, ErrAuthorityNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get authority account")
	}

	if !bytes.Equal(info.Owner, programID) {
		return nil, errors.Errorf("authority %s is owned by %s, not the program", base58.Encode(address), base58.Encode(info.Owner))
	}

	var account paymentsystem.AuthorityAccount
	if err := account.Unmarshal(info.Data); err != nil {
		return nil, errors.Wrapf(err, "failed to decode authority %s", base58.Encode(address))
	}

	return &AuthorityResult{
		Address:  address,
		Bump:     bump,
		Owner:    account.Owner,
		CoSigner: account.CoSigner,
	}, nil
}

func (i *Initializer) warnOnCoSignerMismatch(log *logrus.Entry, res *AuthorityResult, requested ed25519.PublicKey) {
	if bytes.Equal(res.CoSigner, requested) {
		log.Info("program already initialized")
		return
	}

	log.WithField("stored_co_signer", base58.Encode(res.CoSigner)).Warn("program already initialized with a different co-signer")
}

func programError(failure *transaction.Failure) error {
	if custom, ok := failure.CustomErrorAt(0); ok {
		if e, ok := paymentsystem.FromCustomError(custom); ok {
			return errors.Wrapf(e, "transaction %s failed", failure.Signature)
		}
	}
	return failure
}
