package bootstrap

import (
	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
)

// Errors returned by a run. They may be wrapped, so compare with errors.Is.
var (
	ErrStorage            = common.ErrStorage
	ErrFundingUnavailable = common.ErrFundingUnavailable
	ErrAlreadyInitialized = common.ErrAlreadyInitialized
	ErrRunInProgress      = common.ErrRunInProgress
)

// ProvisionError identifies the token and step a provisioning failure
// happened at.
type ProvisionError = common.ProvisionError
