package bootstrap

import (
	"context"
	"crypto/ed25519"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/config"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/data/resource"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/funding"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/identity"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/program"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/provision"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/report"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/transaction"
	"github.com/qbitflow/bootstrap/pkg/lock"
	"github.com/qbitflow/bootstrap/pkg/metrics"
	"github.com/qbitflow/bootstrap/pkg/solana"
)

const (
	stepEventName        = "BootstrapStep"
	stepDurationMetric   = "Custom/Bootstrap/StepDuration/"
	runTransactionPrefix = "bootstrap "
)

// Step names, as they appear in logs and recorded events.
const (
	StepIdentity   = "identity"
	StepFunding    = "funding"
	StepProvision  = "provision"
	StepInitialize = "initialize"
	StepReport     = "report"
)

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithSolanaClient replaces the RPC client built from the configuration.
func WithSolanaClient(sc solana.Client) Option {
	return func(b *Bootstrapper) {
		b.sc = sc
	}
}

// WithResourceStore replaces the registry selected by the configuration.
func WithResourceStore(store resource.Store) Option {
	return func(b *Bootstrapper) {
		b.store = store
	}
}

// WithLockManager replaces the run lock manager selected by the
// configuration.
func WithLockManager(lm lock.Manager) Option {
	return func(b *Bootstrapper) {
		b.locks = lm
	}
}

// WithOutput sets where summaries are printed. The default is stdout.
func WithOutput(w io.Writer) Option {
	return func(b *Bootstrapper) {
		b.out = w
	}
}

// Bootstrapper provisions a payment system deployment. Each Bootstrapper
// carries a single run ID, used for the run lock, transaction memos and
// registry records.
type Bootstrapper struct {
	log   *logrus.Entry
	cfg   *config.Config
	runID string

	sc       solana.Client
	store    resource.Store
	locks    lock.Manager
	out      io.Writer
	keystore *identity.Keystore

	closers []func()
}

// New builds a Bootstrapper for cfg, connecting the registry and lock
// backends it selects. Close releases them.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Bootstrapper, error) {
	runID := uuid.New().String()

	b := &Bootstrapper{
		log: logrus.StandardLogger().WithFields(logrus.Fields{
			"type":   "bootstrap/bootstrapper",
			"run_id": runID,
		}),
		cfg:      cfg,
		runID:    runID,
		out:      os.Stdout,
		keystore: identity.NewKeystore(cfg.AccountsDir),
	}
	for _, o := range opts {
		o(b)
	}

	if b.sc == nil {
		b.sc = solana.New(
			cfg.NetworkURL,
			solana.WithRetryPolicy(cfg.RPC.Retry),
			solana.WithRateLimit(cfg.RPC.RequestsPerSecond),
			solana.WithRequestTimeout(cfg.RPC.Timeout),
		)
	}

	if b.store == nil {
		store, closeFn, err := openResourceStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.store = store
		b.closers = append(b.closers, closeFn)
	}

	if b.locks == nil {
		lm, closeFn, err := openLockManager(cfg, runID)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.locks = lm
		b.closers = append(b.closers, closeFn)
	}

	return b, nil
}

// RunID returns the identifier of this bootstrapper's run.
func (b *Bootstrapper) RunID() string {
	return b.runID
}

// Close releases the registry and lock backends opened by New.
func (b *Bootstrapper) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Run executes the full pipeline: identities, funding, token provisioning,
// program initialization and the final report, in that order. An already
// initialized program is not an error.
func (b *Bootstrapper) Run(ctx context.Context, coSigner ed25519.PublicKey) (*report.Summary, error) {
	var summary *report.Summary
	err := b.withRun(ctx, "Run", func(ctx context.Context, deployer *identity.Identity) error {
		summary = b.newSummary(deployer)

		var user, merchant *identity.Identity
		err := b.step(ctx, StepIdentity, func() error {
			var err error
			if user, err = b.keystore.LoadOrCreate(ctx, identity.RoleUser); err != nil {
				return err
			}
			merchant, err = b.keystore.LoadOrCreate(ctx, identity.RoleMerchant)
			return err
		})
		if err != nil {
			return err
		}
		summary.User = user.Account
		summary.Merchant = merchant.Account

		funder := funding.NewFunder(b.sc, b.cfg.Network(), b.cfg.FaucetAvailable())
		err = b.step(ctx, StepFunding, func() error {
			thresholds := []struct {
				id *identity.Identity
				t  config.FundingThreshold
			}{
				{deployer, b.cfg.Funding.Deployer},
				{user, b.cfg.Funding.User},
				{merchant, b.cfg.Funding.Merchant},
			}
			for _, th := range thresholds {
				if _, err := funder.EnsureFunded(ctx, th.id.Account.PublicKey().ToBytes(), th.t.MinBalance, th.t.TopUp); err != nil {
					return errors.Wrapf(err, "failed to fund %s", th.id.Role)
				}
			}

			var err error
			summary.InitialBalance, err = funder.Balance(ctx, deployer.Account.PublicKey().ToBytes())
			return err
		})
		if err != nil {
			return err
		}

		submitter := b.newSubmitter()
		provisioner := provision.NewProvisioner(b.sc, submitter, b.store, b.cfg.Network(), b.cfg.MintMode, b.runID)
		err = b.step(ctx, StepProvision, func() error {
			for _, d := range b.cfg.Tokens {
				res, err := provisioner.Provision(ctx, d, deployer.Account, user.Account.PublicKey().ToBytes())
				if err != nil {
					return err
				}
				summary.Tokens = append(summary.Tokens, toReportToken(res))
			}
			return nil
		})
		if err != nil {
			return err
		}

		err = b.step(ctx, StepInitialize, func() error {
			return b.initialize(ctx, program.NewInitializer(b.sc, submitter), deployer, coSigner, summary)
		})
		if err != nil {
			return err
		}

		return b.step(ctx, StepReport, func() error {
			var err error
			summary.FinalBalance, err = funder.Balance(ctx, deployer.Account.PublicKey().ToBytes())
			if err != nil {
				return err
			}

			_, err = report.NewReporter(b.out, b.cfg.ManifestPath, b.cfg.ShowSecrets).Report(ctx, summary)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// InitializeOnly initializes the payment program, without provisioning
// tokens or writing a manifest. The deployer is only topped up when the
// network has a faucet.
func (b *Bootstrapper) InitializeOnly(ctx context.Context, coSigner ed25519.PublicKey) (*report.Summary, error) {
	var summary *report.Summary
	err := b.withRun(ctx, "InitializeOnly", func(ctx context.Context, deployer *identity.Identity) error {
		summary = b.newSummary(deployer)

		funder := funding.NewFunder(b.sc, b.cfg.Network(), b.cfg.FaucetAvailable())
		if err := b.deployerBaseline(ctx, funder, deployer, summary); err != nil {
			return err
		}

		err := b.step(ctx, StepInitialize, func() error {
			return b.initialize(ctx, program.NewInitializer(b.sc, b.newSubmitter()), deployer, coSigner, summary)
		})
		if err != nil {
			return err
		}

		return b.printSummary(ctx, funder, deployer, summary)
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// CreateMintsOnly provisions the configured mints, without holding
// accounts, credits or a manifest. The deployer is only topped up when the
// network has a faucet.
func (b *Bootstrapper) CreateMintsOnly(ctx context.Context) (*report.Summary, error) {
	var summary *report.Summary
	err := b.withRun(ctx, "CreateMintsOnly", func(ctx context.Context, deployer *identity.Identity) error {
		summary = b.newSummary(deployer)
		summary.ProgramID = nil

		funder := funding.NewFunder(b.sc, b.cfg.Network(), b.cfg.FaucetAvailable())
		if err := b.deployerBaseline(ctx, funder, deployer, summary); err != nil {
			return err
		}

		provisioner := provision.NewProvisioner(b.sc, b.newSubmitter(), b.store, b.cfg.Network(), b.cfg.MintMode, b.runID)
		err := b.step(ctx, StepProvision, func() error {
			for _, d := range b.cfg.Tokens {
				res, err := provisioner.EnsureMint(ctx, d, deployer.Account)
				if err != nil {
					return err
				}
				summary.Tokens = append(summary.Tokens, toReportToken(res))
			}
			return nil
		})
		if err != nil {
			return err
		}

		return b.printSummary(ctx, funder, deployer, summary)
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// UpdateOwner transfers ownership of the program authority from the
// deployer to newOwner. The co-signer recorded at initialization must sign.
func (b *Bootstrapper) UpdateOwner(ctx context.Context, coSigner *common.Account, newOwner ed25519.PublicKey) (*program.AuthorityResult, error) {
	var res *program.AuthorityResult
	err := b.withRun(ctx, "UpdateOwner", func(ctx context.Context, deployer *identity.Identity) error {
		return b.step(ctx, StepInitialize, func() error {
			var err error
			res, err = program.NewInitializer(b.sc, b.newSubmitter()).UpdateOwner(ctx, b.cfg.ProgramKey(), deployer.Account, coSigner, newOwner)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// withRun loads the deployer and runs fn while holding the deployer's run
// lock. The context passed to fn is cancelled if the lock is lost.
func (b *Bootstrapper) withRun(ctx context.Context, name string, fn func(ctx context.Context, deployer *identity.Identity) error) (err error) {
	ctx, end := metrics.StartTransaction(ctx, runTransactionPrefix+name)
	defer func() { end(err) }()

	log := b.log.WithField("method", name)

	var deployer *identity.Identity
	err = b.step(ctx, StepIdentity, func() error {
		var err error
		deployer, err = b.loadDeployer(ctx)
		return err
	})
	if err != nil {
		log.WithError(err).Warn("failed to load deployer")
		return err
	}

	lockName := deployer.Account.PublicKey().ToBase58()
	runLock, err := b.locks.Create(ctx, lockName)
	if err != nil {
		return errors.Wrap(err, "failed to create run lock")
	}

	lostCh, err := runLock.TryAcquire(ctx)
	if errors.Is(err, lock.ErrLockHeld) {
		return errors.Wrapf(ErrRunInProgress, "deployer %s", lockName)
	} else if err != nil {
		return errors.Wrap(err, "failed to acquire run lock")
	}
	defer func() {
		if unlockErr := runLock.Unlock(context.Background()); unlockErr != nil {
			log.WithError(unlockErr).Warn("failed to release run lock")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-lostCh:
			if runCtx.Err() == nil {
				log.Warn("run lock lost, cancelling")
			}
			cancel()
		case <-runCtx.Done():
		}
	}()

	log.WithField("deployer", lockName).Info("starting run")

	err = fn(runCtx, deployer)
	if err != nil {
		log.WithError(err).Warn("run failed")
		return err
	}

	log.Info("run completed")
	return nil
}

// step runs fn as a named pipeline step, recording its duration and outcome.
func (b *Bootstrapper) step(ctx context.Context, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	metrics.RecordDuration(ctx, stepDurationMetric+name, elapsed)
	metrics.RecordEvent(ctx, stepEventName, map[string]interface{}{
		"run_id":      b.runID,
		"step":        name,
		"duration_ms": elapsed.Milliseconds(),
		"success":     err == nil,
	})

	b.log.WithFields(logrus.Fields{
		"step":     name,
		"duration": elapsed,
	}).Debug("step finished")

	return err
}

func (b *Bootstrapper) loadDeployer(ctx context.Context) (*identity.Identity, error) {
	if len(b.cfg.DeployerPrivateKey) > 0 {
		return identity.FromPrivateKeyString(identity.RoleDeployer, b.cfg.DeployerPrivateKey)
	}
	return b.keystore.LoadOrCreate(ctx, identity.RoleDeployer)
}

func (b *Bootstrapper) fundDeployer(ctx context.Context, funder *funding.Funder, deployer *identity.Identity, summary *report.Summary) error {
	return b.step(ctx, StepFunding, func() error {
		threshold := b.cfg.Funding.Deployer
		balance, err := funder.EnsureFunded(ctx, deployer.Account.PublicKey().ToBytes(), threshold.MinBalance, threshold.TopUp)
		if err != nil {
			return errors.Wrapf(err, "failed to fund %s", deployer.Role)
		}
		summary.InitialBalance = balance
		return nil
	})
}

// deployerBaseline records the deployer's starting balance. On networks
// without a faucet the balance is read as is, and any shortfall surfaces
// when the first transaction is submitted.
func (b *Bootstrapper) deployerBaseline(ctx context.Context, funder *funding.Funder, deployer *identity.Identity, summary *report.Summary) error {
	if funder.Faucet() {
		return b.fundDeployer(ctx, funder, deployer, summary)
	}

	return b.step(ctx, StepFunding, func() error {
		balance, err := funder.Balance(ctx, deployer.Account.PublicKey().ToBytes())
		if err != nil {
			return errors.Wrapf(err, "failed to read %s balance", deployer.Role)
		}
		summary.InitialBalance = balance
		return nil
	})
}

func (b *Bootstrapper) initialize(ctx context.Context, initializer *program.Initializer, deployer *identity.Identity, coSigner ed25519.PublicKey, summary *report.Summary) error {
	res, err := initializer.InitializeAuthority(ctx, b.cfg.ProgramKey(), deployer.Account, coSigner)
	switch err {
	case nil:
	case ErrAlreadyInitialized:
		summary.AlreadyInitialized = true
	default:
		return err
	}

	summary.Authority = res.Address
	return nil
}

func (b *Bootstrapper) printSummary(ctx context.Context, funder *funding.Funder, deployer *identity.Identity, summary *report.Summary) error {
	return b.step(ctx, StepReport, func() error {
		var err error
		summary.FinalBalance, err = funder.Balance(ctx, deployer.Account.PublicKey().ToBytes())
		if err != nil {
			return err
		}

		reporter := report.NewReporter(b.out, "", b.cfg.ShowSecrets)
		return reporter.Print(summary, summary.Manifest())
	})
}

func (b *Bootstrapper) newSummary(deployer *identity.Identity) *report.Summary {
	return &report.Summary{
		RunID:      b.runID,
		NetworkURL: b.cfg.NetworkURL,
		ProgramID:  b.cfg.ProgramKey(),
		Deployer:   deployer.Account,
	}
}

func (b *Bootstrapper) newSubmitter() *transaction.Submitter {
	return transaction.NewSubmitter(b.sc, transaction.Options{
		RunID:            b.runID,
		ComputeUnitLimit: b.cfg.PriorityFee.ComputeUnitLimit,
		ComputeUnitPrice: b.cfg.PriorityFee.ComputeUnitPrice,
	})
}

func toReportToken(res *provision.Result) report.Token {
	return report.Token{
		Symbol:         res.Symbol,
		Mint:           res.Mint,
		Decimals:       res.Decimals,
		HoldingAccount: res.HoldingAccount,
		Balance:        res.Balance,
		Duplicate:      res.Duplicate,
	}
}
