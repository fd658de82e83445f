package common

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrStorage indicates local persistent state could not be read or
	// written. It is always fatal.
	ErrStorage = errors.New("storage error")

	// ErrFundingUnavailable indicates the faucet could not provide funds.
	// Airdrops are never retried automatically.
	ErrFundingUnavailable = errors.New("funding unavailable")

	// ErrAlreadyInitialized indicates the program authority record already
	// exists. Callers treat it as informational.
	ErrAlreadyInitialized = errors.New("program already initialized")

	// ErrRunInProgress indicates another bootstrap run holds the lock for the
	// same deployer.
	ErrRunInProgress = errors.New("bootstrap run already in progress")
)

// ProvisionStep names the stage of token provisioning that failed.
type ProvisionStep string

const (
	ProvisionStepLookup  ProvisionStep = "lookup"
	ProvisionStepMint    ProvisionStep = "create-mint"
	ProvisionStepHolding ProvisionStep = "holding-account"
	ProvisionStepCredit  ProvisionStep = "credit"
	ProvisionStepBalance ProvisionStep = "balance"
)

// ProvisionError is returned when provisioning a token fails. Resources
// created by earlier steps are left in place.
type ProvisionError struct {
	Symbol string
	Step   ProvisionStep
	Err    error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("failed to provision %s at step %s: %v", e.Symbol, e.Step, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}
