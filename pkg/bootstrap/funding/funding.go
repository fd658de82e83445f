package funding

import (
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
	"github.com/qbitflow/bootstrap/pkg/solana"
)

// Funder tops up native balances from the cluster faucet.
type Funder struct {
	log     *logrus.Entry
	sc      solana.Client
	network string
	faucet  bool
}

// NewFunder returns a Funder for network. Airdrops are only requested when
// faucet is set.
func NewFunder(sc solana.Client, network string, faucet bool) *Funder {
	return &Funder{
		log:     logrus.StandardLogger().WithField("type", "bootstrap/funding"),
		sc:      sc,
		network: network,
		faucet:  faucet,
	}
}

func (f *Funder) Faucet() bool {
	return f.faucet
}

// Balance returns the account's native balance in lamports. Accounts the
// cluster has never seen have a zero balance.
func (f *Funder) Balance(ctx context.Context, account ed25519.PublicKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	balance, err := f.sc.GetBalance(account)
	if err == solana.ErrNoBalance {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrap(err, "failed to get balance")
	}
	return balance, nil
}

// EnsureFunded requests a single airdrop of topUp lamports when the
// account holds less than minBalance, and returns the resulting balance.
//
// Nothing is requested when the balance already meets minBalance. A failed
// airdrop is reported as common.ErrFundingUnavailable and is not retried.
func (f *Funder) EnsureFunded(ctx context.Context, account ed25519.PublicKey, minBalance, topUp uint64) (uint64, error) {
	log := f.log.WithField("account", base58.Encode(account))

	balance, err := f.Balance(ctx, account)
	if err != nil {
		return 0, err
	}

	if balance >= minBalance {
		log.WithField("balance", balance).Debug("balance meets minimum, skipping airdrop")
		return balance, nil
	}

	if !f.faucet {
		return balance, errors.Wrapf(common.ErrFundingUnavailable, "%s has no faucet, balance %d below %d", f.network, balance, minBalance)
	}
	if err := ctx.Err(); err != nil {
		return balance, err
	}

	log = log.WithFields(logrus.Fields{
		"balance":  balance,
		"lamports": topUp,
	})
	log.Info("requesting airdrop")

	sig, err := f.sc.RequestAirdrop(account, topUp, solana.CommitmentConfirmed)
	if err != nil {
		log.WithError(err).Warn("airdrop request failed")
		return balance, errors.Wrapf(common.ErrFundingUnavailable, "airdrop request failed: %v", err)
	}

	log = log.WithField("signature", sig.String())

	status, err := f.sc.GetSignatureStatus(sig, solana.CommitmentConfirmed)
	if err != nil {
		log.WithError(err).Warn("airdrop not confirmed")
		return balance, errors.Wrapf(common.ErrFundingUnavailable, "airdrop %s not confirmed: %v", sig, err)
	}
	if status.ErrorResult != nil {
		log.WithError(status.ErrorResult).Warn("airdrop failed")
		return balance, errors.Wrapf(common.ErrFundingUnavailable, "airdrop %s failed: %v", sig, status.ErrorResult)
	}

	balance, err = f.Balance(ctx, account)
	if err != nil {
		return 0, err
	}

	log.WithField("new_balance", balance).Info("airdrop confirmed")
	return balance, nil
}
