package report

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
	"github.com/qbitflow/bootstrap/pkg/osutil"
)

const (
	manifestFileMode = 0644
	manifestDirMode  = 0755

	lamportsPerSolExp = 9
)

// Token is the outcome of provisioning a single token.
type Token struct {
	Symbol         string
	Mint           ed25519.PublicKey
	Decimals       uint8
	HoldingAccount ed25519.PublicKey
	Balance        uint64
	Duplicate      bool
}

// Summary is everything a run reports once it has finished.
type Summary struct {
	RunID      string
	NetworkURL string
	ProgramID  ed25519.PublicKey
	Authority  ed25519.PublicKey

	Deployer *common.Account
	User     *common.Account
	Merchant *common.Account

	Tokens []Token

	// InitialBalance is the deployer balance after funding, so airdrops are
	// not counted towards the cost.
	InitialBalance uint64
	FinalBalance   uint64

	AlreadyInitialized bool
}

// Cost is the SOL spent by the deployer during the run. It is negative if
// the deployer received funds after the baseline was taken.
func (s *Summary) Cost() decimal.Decimal {
	spent := decimal.NewFromBigInt(new(big.Int).SetUint64(s.InitialBalance), 0).
		Sub(decimal.NewFromBigInt(new(big.Int).SetUint64(s.FinalBalance), 0))
	return spent.Shift(-lamportsPerSolExp)
}

// Manifest builds the manifest of the summary. Accounts and fields that
// were not part of the run are left out.
func (s *Summary) Manifest() *Manifest {
	m := NewManifest()

	setAccount := func(key string, a *common.Account) {
		if a != nil {
			m.Set(key, a.PublicKey().ToBase58())
		}
	}
	setKey := func(key string, k ed25519.PublicKey) {
		if len(k) > 0 {
			m.Set(key, base58.Encode(k))
		}
	}

	setAccount(KeyDeployerWallet, s.Deployer)
	setAccount(KeyUserWallet, s.User)
	setAccount(KeyMerchantWallet, s.Merchant)
	if len(s.NetworkURL) > 0 {
		m.Set(KeyRPCURL, s.NetworkURL)
	}
	setKey(KeyProgramID, s.ProgramID)
	setKey(KeyAuthorityPDA, s.Authority)

	for _, t := range s.Tokens {
		setKey(t.Symbol, t.Mint)
	}
	for _, t := range s.Tokens {
		setKey(TokenAccountKey(t.Symbol), t.HoldingAccount)
	}

	return m
}

// Reporter prints run summaries and persists the manifest.
type Reporter struct {
	log          *logrus.Entry
	out          io.Writer
	manifestPath string
	showSecrets  bool
}

// NewReporter returns a Reporter printing to out. An empty manifestPath
// disables writing the manifest.
func NewReporter(out io.Writer, manifestPath string, showSecrets bool) *Reporter {
	return &Reporter{
		log:          logrus.StandardLogger().WithField("type", "bootstrap/report"),
		out:          out,
		manifestPath: manifestPath,
		showSecrets:  showSecrets,
	}
}

// Report writes the manifest of s, replacing any previous file, and prints
// the summary. A manifest that cannot be written is a common.ErrStorage.
func (r *Reporter) Report(ctx context.Context, s *Summary) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest := s.Manifest()
	if len(r.manifestPath) > 0 {
		if err := r.WriteManifest(manifest); err != nil {
			return nil, err
		}
	}

	if err := r.Print(s, manifest); err != nil {
		return nil, err
	}
	if len(r.manifestPath) > 0 {
		if _, err := fmt.Fprintf(r.out, "\nAddresses saved to: %s\n", r.manifestPath); err != nil {
			return nil, err
		}
	}
	return manifest, nil
}

// WriteManifest atomically replaces the manifest file.
func (r *Reporter) WriteManifest(m *Manifest) error {
	data, err := m.MarshalIndent()
	if err != nil {
		return err
	}

	if err := osutil.WriteFileAtomic(r.manifestPath, data, manifestFileMode, manifestDirMode); err != nil {
		return errors.Wrapf(common.ErrStorage, "failed to write manifest %s: %v", r.manifestPath, err)
	}

	r.log.WithFields(logrus.Fields{
		"path":    r.manifestPath,
		"entries": m.Len(),
	}).Info("manifest written")
	return nil
}

// Print writes a human readable summary of s to the reporter's output. A
// nil manifest omits the address listing.
func (r *Reporter) Print(s *Summary, m *Manifest) error {
	p := &printer{w: r.out}

	p.section("Bootstrap Summary")
	if len(s.RunID) > 0 {
		p.line("Run ID: %s", s.RunID)
	}
	p.line("Deployer balance after setup: %s SOL", lamportsToSol(s.FinalBalance))
	p.line("Setup cost: %s SOL", s.Cost().String())
	if s.AlreadyInitialized {
		p.line("Program was already initialized")
	}
	for _, t := range s.Tokens {
		if t.Duplicate {
			p.line("Warning: %s mint %s duplicates a previously created mint", t.Symbol, base58.Encode(t.Mint))
		}
	}

	if m != nil && m.Len() > 0 {
		p.section("Deployed Addresses")
		m.Each(func(key, value string) {
			p.line("%s: %s", key, value)
		})
	}

	if r.showSecrets {
		p.section("Keypairs")
		p.keypair("Deployer Wallet", s.Deployer)
		p.keypair("User Wallet", s.User)
		p.keypair("Merchant Wallet", s.Merchant)
	}

	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) line(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) section(title string) {
	p.line("")
	p.line("%s", title)
	p.line("%s", strings.Repeat("=", len(title)))
}

func (p *printer) keypair(name string, a *common.Account) {
	if a == nil {
		return
	}
	p.line("%s Public Key: %s", name, a.PublicKey().ToBase58())
	if a.PrivateKey() != nil {
		p.line("%s Private Key: %s", name, a.PrivateKey().ToBase58())
	}
}

func lamportsToSol(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportsPerSolExp).String()
}
