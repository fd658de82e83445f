package identity

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
	"github.com/qbitflow/bootstrap/pkg/osutil"
)

const (
	RoleDeployer = "deployer"
	RoleUser     = "user"
	RoleMerchant = "merchant"
)

const (
	keyFileMode = 0600
	keyDirMode  = 0700
)

var (
	ErrIdentityNotFound = errors.New("identity not found")
	ErrInvalidRole      = errors.New("invalid role")
)

// Identity is a named keypair that persists across runs.
type Identity struct {
	Role    string
	Account *common.Account

	// Created is set when the keypair was generated by this call.
	Created bool
}

// FromPrivateKeyString builds an identity from a base58 encoded secret key
// supplied through configuration rather than the keystore.
func FromPrivateKeyString(role, secret string) (*Identity, error) {
	account, err := common.NewAccountFromPrivateKeyString(secret)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s private key", role)
	}
	return &Identity{Role: role, Account: account}, nil
}

// Keystore stores one keypair file per role in a directory, in the Solana
// CLI keypair format.
type Keystore struct {
	log *logrus.Entry
	dir string
}

func NewKeystore(dir string) *Keystore {
	return &Keystore{
		log: logrus.StandardLogger().WithField("type", "bootstrap/identity"),
		dir: dir,
	}
}

// Path returns the file the role's keypair is stored in.
func (k *Keystore) Path(role string) string {
	return filepath.Join(k.dir, role+".json")
}

// Load returns the stored identity for role, or ErrIdentityNotFound.
func (k *Keystore) Load(ctx context.Context, role string) (*Identity, error) {
	if err := validateRole(role); err != nil {
		return nil, err
	}

	path := k.Path(role)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrIdentityNotFound
	} else if err != nil {
		return nil, errors.Wrapf(common.ErrStorage, "failed to read %s: %v", path, err)
	}

	account, err := common.UnmarshalKeypair(data)
	if err != nil {
		return nil, errors.Wrapf(common.ErrStorage, "corrupt keypair file %s: %v", path, err)
	}

	return &Identity{Role: role, Account: account}, nil
}

// LoadOrCreate returns the stored identity for role, generating and
// persisting a new one when none exists. A new keypair is on disk before it
// is returned, and an existing file is never replaced. Existing files that
// cannot be decoded are reported as common.ErrStorage and left untouched.
func (k *Keystore) LoadOrCreate(ctx context.Context, role string) (*Identity, error) {
	log := k.log.WithField("role", role)

	existing, err := k.Load(ctx, role)
	if err == nil {
		log.WithField("public_key", existing.Account.PublicKey().ToBase58()).Debug("loaded existing keypair")
		return existing, nil
	} else if err != ErrIdentityNotFound {
		return nil, err
	}

	account, err := common.NewRandomAccount()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate keypair")
	}

	data, err := common.MarshalKeypair(account)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode keypair")
	}

	path := k.Path(role)
	err = osutil.WriteFileExclusive(path, data, keyFileMode, keyDirMode)
	if errors.Is(err, os.ErrExist) {
		// Another run created the keypair first; its key wins.
		log.Debug("keypair created concurrently, loading it")
		return k.Load(ctx, role)
	} else if err != nil {
		return nil, errors.Wrapf(common.ErrStorage, "failed to persist %s: %v", path, err)
	}

	log.WithFields(logrus.Fields{
		"public_key": account.PublicKey().ToBase58(),
		"path":       path,
	}).Info("generated new keypair")

	return &Identity{Role: role, Account: account, Created: true}, nil
}

func validateRole(role string) error {
	if len(role) == 0 || strings.ContainsAny(role, `/\`) || role == "." || role == ".." {
		return errors.Wrapf(ErrInvalidRole, "%q", role)
	}
	return nil
}
