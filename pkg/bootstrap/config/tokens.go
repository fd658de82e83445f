package config

import (
	"math"
	"math/big"
	"os"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var maxUnits = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// TokenDescriptor declares a token to provision.
type TokenDescriptor struct {
	Symbol   string `yaml:"symbol" validate:"required,alphanum,uppercase,max=10"`
	Name     string `yaml:"name" validate:"required"`
	Decimals uint8  `yaml:"decimals" validate:"lte=18"`

	// InitialAmount is the number of whole tokens credited to the recipient.
	InitialAmount decimal.Decimal `yaml:"-"`
}

// TargetUnits returns InitialAmount in the token's smallest unit. It fails
// when the amount is negative, has more fractional digits than Decimals
// allows, or does not fit in a uint64.
func (d TokenDescriptor) TargetUnits() (uint64, error) {
	if d.InitialAmount.IsNegative() {
		return 0, errors.Errorf("initial amount %s is negative", d.InitialAmount)
	}

	units := d.InitialAmount.Shift(int32(d.Decimals))
	if !units.Equal(units.Truncate(0)) {
		return 0, errors.Errorf("initial amount %s has more than %d decimal places", d.InitialAmount, d.Decimals)
	}
	if units.GreaterThan(maxUnits) {
		return 0, errors.Errorf("initial amount %s overflows", d.InitialAmount)
	}

	return units.BigInt().Uint64(), nil
}

// DefaultTokens are provisioned when no tokens file is configured.
func DefaultTokens() []TokenDescriptor {
	return []TokenDescriptor{
		{
			Symbol:        "USDC",
			Name:          "Mock USDC",
			Decimals:      6,
			InitialAmount: decimal.NewFromInt(1000),
		},
		{
			Symbol:        "WSOL",
			Name:          "Wrapped SOL",
			Decimals:      9,
			InitialAmount: decimal.NewFromInt(50),
		},
	}
}

type tokensFile struct {
	Tokens []struct {
		Symbol        string `yaml:"symbol"`
		Name          string `yaml:"name"`
		Decimals      uint8  `yaml:"decimals"`
		InitialAmount string `yaml:"initial_amount"`
	} `yaml:"tokens"`
}

// LoadTokens reads token descriptors from a YAML file of the form:
//
//	tokens:
//	  - symbol: USDC
//	    name: Mock USDC
//	    decimals: 6
//	    initial_amount: "1000"
//
// Declaration order is preserved.
func LoadTokens(path string) ([]TokenDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "failed to read tokens file: %v", err)
	}

	return ParseTokens(data)
}

func ParseTokens(data []byte) ([]TokenDescriptor, error) {
	var file tokensFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "failed to parse tokens file: %v", err)
	}

	descriptors := make([]TokenDescriptor, len(file.Tokens))
	for i, t := range file.Tokens {
		amount, err := decimal.NewFromString(t.InitialAmount)
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidConfig, "token %s: invalid initial_amount %q", t.Symbol, t.InitialAmount)
		}

		descriptors[i] = TokenDescriptor{
			Symbol:        t.Symbol,
			Name:          t.Name,
			Decimals:      t.Decimals,
			InitialAmount: amount,
		}
	}
	return descriptors, nil
}
