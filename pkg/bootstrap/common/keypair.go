package common

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrInvalidKeypair is returned when a keypair file does not hold a valid
// ed25519 secret key.
var ErrInvalidKeypair = errors.New("invalid keypair")

// MarshalKeypair encodes the account's secret key the way the Solana CLI
// stores keypair files: a JSON array of the 64 secret key bytes.
func MarshalKeypair(a *Account) ([]byte, error) {
	if a.privateKey == nil {
		return nil, errors.New("private key not available")
	}

	raw := a.privateKey.ToBytes()
	values := make([]int, len(raw))
	for i, b := range raw {
		values[i] = int(b)
	}
	return json.Marshal(values)
}

// UnmarshalKeypair decodes a Solana CLI keypair file. The trailing 32 bytes
// must be the public key derived from the leading seed.
func UnmarshalKeypair(data []byte) (*Account, error) {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(ErrInvalidKeypair, err.Error())
	}
	if len(values) != ed25519.PrivateKeySize {
		return nil, errors.Wrapf(ErrInvalidKeypair, "expected %d bytes, got %d", ed25519.PrivateKeySize, len(values))
	}

	raw := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return nil, errors.Wrapf(ErrInvalidKeypair, "value %d at index %d is not a byte", v, i)
		}
		raw[i] = byte(v)
	}

	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(derived, raw) {
		return nil, errors.Wrap(ErrInvalidKeypair, "public key doesn't match seed")
	}

	return NewAccountFromPrivateKeyBytes(raw)
}
