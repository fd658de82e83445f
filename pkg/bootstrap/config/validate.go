package config

import (
	"crypto/ed25519"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("solana_public_key", isBase58OfLength(ed25519.PublicKeySize))
		_ = validate.RegisterValidation("solana_secret_key", isBase58OfLength(ed25519.PrivateKeySize))
	})
	return validate
}

func isBase58OfLength(size int) validator.Func {
	return func(fl validator.FieldLevel) bool {
		decoded, err := base58.Decode(fl.Field().String())
		return err == nil && len(decoded) == size
	}
}

// Validate checks the configuration for consistency. Field level failures
// are reported together, naming each offending field.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return errors.Wrap(ErrInvalidConfig, err.Error())
		}

		problems := make([]string, len(fieldErrs))
		for i, fe := range fieldErrs {
			problems[i] = describe(fe, c.Target)
		}
		return errors.Wrap(ErrInvalidConfig, strings.Join(problems, "; "))
	}

	if err := c.RPC.Retry.Validate(); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "rpc retry policy: %v", err)
	}

	for _, token := range c.Tokens {
		if _, err := token.TargetUnits(); err != nil {
			return errors.Wrapf(ErrInvalidConfig, "token %s: %v", token.Symbol, err)
		}
	}

	return nil
}

func describe(fe validator.FieldError, target Target) string {
	name := fe.StructNamespace()
	for _, b := range bindings {
		if strings.EqualFold(fe.Field(), strings.ReplaceAll(b.key, "_", "")) && !strings.Contains(b.key, ".") {
			name = b.env
			if b.targeted {
				name += target.suffix()
			}
			break
		}
	}

	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "url":
		return name + " must be a URL"
	case "solana_public_key":
		return name + " must be a base58 encoded public key"
	case "solana_secret_key":
		return name + " must be a base58 encoded 64 byte secret key"
	case "oneof":
		return name + " must be one of: " + fe.Param()
	default:
		return name + " failed " + fe.Tag() + " " + fe.Param()
	}
}
