package paymentsystem

import (
	"fmt"

	"github.com/qbitflow/bootstrap/pkg/solana"
)

type PaymentSystemError uint32

const (
	ZeroAmount PaymentSystemError = iota + 0x1770
	InvalidFeePercentage
	PaymentNotDueYet
	InvalidFrequency
	InsufficientAllowance
	Unauthorized
	Overflow
	InvalidSubscriptionParameters
	CannotCancelActiveSubscription

	// Amount exceeds maximum
	MaxAmountExceeded

	InvalidAmount

	// Max amount lower than last payment
	MaxAmountInvalid
)

var errorNames = map[PaymentSystemError]string{
	ZeroAmount:                     "ZeroAmount",
	InvalidFeePercentage:           "InvalidFeePercentage",
	PaymentNotDueYet:               "PaymentNotDueYet",
	InvalidFrequency:               "InvalidFrequency",
	InsufficientAllowance:          "InsufficientAllowance",
	Unauthorized:                   "Unauthorized",
	Overflow:                       "Overflow",
	InvalidSubscriptionParameters:  "InvalidSubscriptionParameters",
	CannotCancelActiveSubscription: "CannotCancelActiveSubscription",
	MaxAmountExceeded:              "MaxAmountExceeded",
	InvalidAmount:                  "InvalidAmount",
	MaxAmountInvalid:               "MaxAmountInvalid",
}

func (e PaymentSystemError) Error() string {
	if name, ok := errorNames[e]; ok {
		return fmt.Sprintf("%s (%d)", name, uint32(e))
	}
	return fmt.Sprintf("unknown payment system error (%d)", uint32(e))
}

// AsPaymentSystemError extracts a program error from the custom error raised
// by the instruction at index, if any.
func AsPaymentSystemError(txErr *solana.TransactionError, index int) (PaymentSystemError, bool) {
	if txErr == nil {
		return 0, false
	}
	custom, ok := txErr.CustomErrorAt(index)
	if !ok {
		return 0, false
	}
	return FromCustomError(custom)
}

// FromCustomError maps a custom program error onto a known PaymentSystemError.
func FromCustomError(custom solana.CustomError) (PaymentSystemError, bool) {
	e := PaymentSystemError(custom)
	if _, known := errorNames[e]; !known {
		return 0, false
	}
	return e, true
}
