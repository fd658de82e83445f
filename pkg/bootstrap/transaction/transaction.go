package transaction

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
	"github.com/qbitflow/bootstrap/pkg/metrics"
	"github.com/qbitflow/bootstrap/pkg/solana"
	"github.com/qbitflow/bootstrap/pkg/solana/computebudget"
	"github.com/qbitflow/bootstrap/pkg/solana/memo"
)

const metricsStructName = "transaction.submitter"

// Failure is a transaction that was accepted by the cluster but failed to
// execute.
type Failure struct {
	Signature solana.Signature
	Err       *solana.TransactionError

	// offset is the number of instructions prepended ahead of the caller's.
	offset int
}

func (f *Failure) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", f.Signature, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// CustomErrorAt returns the custom program error raised by the caller's
// instruction at index, ignoring instructions added by the Submitter.
func (f *Failure) CustomErrorAt(index int) (solana.CustomError, bool) {
	if f.Err == nil {
		return 0, false
	}
	return f.Err.CustomErrorAt(index + f.offset)
}

// Options configures how transactions are built.
type Options struct {
	// RunID tags every transaction with a memo when set.
	RunID string

	ComputeUnitLimit uint32
	ComputeUnitPrice uint64
}

// Submitter builds, signs and submits transactions, waiting for the confirmed
// commitment level before returning.
type Submitter struct {
	log  *logrus.Entry
	sc   solana.Client
	opts Options
}

func NewSubmitter(sc solana.Client, opts Options) *Submitter {
	return &Submitter{
		log:  logrus.StandardLogger().WithField("type", "bootstrap/transaction"),
		sc:   sc,
		opts: opts,
	}
}

// MakeTransaction compiles instructions into an unsigned transaction paid for
// by payer. Priority fee instructions are prepended and the run memo is
// appended. The returned offset is the index of the first caller instruction.
func MakeTransaction(payer ed25519.PublicKey, bh solana.Blockhash, opts Options, step string, instructions ...solana.Instruction) (solana.Transaction, int, error) {
	if len(instructions) == 0 {
		return solana.Transaction{}, 0, errors.New("no instructions provided")
	}

	all := computebudget.PriorityFee(opts.ComputeUnitLimit, opts.ComputeUnitPrice)
	offset := len(all)

	all = append(all, instructions...)
	if len(opts.RunID) > 0 {
		all = append(all, memo.RunTag(opts.RunID, step))
	}

	txn := solana.NewTransaction(payer, all...)
	txn.SetBlockhash(bh)

	return txn, offset, nil
}

// Submit sends instructions in a single transaction signed by payer and any
// additional signers. A transaction that executes and fails is returned as a
// *Failure.
func (s *Submitter) Submit(ctx context.Context, step string, payer *common.Account, signers []*common.Account, instructions ...solana.Instruction) (solana.Signature, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Submit")
	tracer.AddAttribute("step", step)
	defer tracer.End()

	sig, err := s.submit(ctx, step, payer, signers, instructions...)
	tracer.OnError(err)
	return sig, err
}

func (s *Submitter) submit(ctx context.Context, step string, payer *common.Account, signers []*common.Account, instructions ...solana.Instruction) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}

	bh, err := s.sc.GetLatestBlockhash()
	if err != nil {
		return solana.Signature{}, errors.Wrap(err, "failed to get latest blockhash")
	}

	txn, offset, err := MakeTransaction(payer.PublicKey().ToBytes(), bh, s.opts, step, instructions...)
	if err != nil {
		return solana.Signature{}, err
	}

	keys := []ed25519.PrivateKey{payer.Signer()}
	for _, signer := range signers {
		keys = append(keys, signer.Signer())
	}
	if err := txn.Sign(keys...); err != nil {
		return solana.Signature{}, errors.Wrap(err, "failed to sign transaction")
	}

	log := s.log.WithFields(logrus.Fields{
		"step":      step,
		"signature": txn.Signatures[0].String(),
	})

	sig, err := s.sc.SubmitTransaction(txn, solana.CommitmentConfirmed)
	if txErr, ok := err.(*solana.TransactionError); ok {
		log.WithError(txErr).Warn("transaction rejected")
		return sig, &Failure{Signature: sig, Err: txErr, offset: offset}
	} else if err != nil {
		return sig, errors.Wrap(err, "failed to submit transaction")
	}

	status, err := s.sc.GetSignatureStatus(sig, solana.CommitmentConfirmed)
	if err != nil {
		return sig, errors.Wrapf(err, "transaction %s not confirmed", sig)
	}
	if status.ErrorResult != nil {
		log.WithError(status.ErrorResult).Warn("transaction failed")
		return sig, &Failure{Signature: sig, Err: status.ErrorResult, offset: offset}
	}

	log.Debug("transaction confirmed")
	return sig, nil
}
