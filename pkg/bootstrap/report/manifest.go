package report

import (
	"bytes"
	"encoding/json"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/pkg/errors"
)

// Manifest keys that do not depend on the provisioned tokens.
const (
	KeyDeployerWallet = "DEPLOYER_WALLET"
	KeyUserWallet     = "USER_WALLET"
	KeyMerchantWallet = "MERCHANT_WALLET"
	KeyRPCURL         = "RPC_URL"
	KeyProgramID      = "PROGRAM_ID"
	KeyAuthorityPDA   = "AUTHORITY_PDA"
)

// TokenAccountKey is the manifest key of a token's holding account. The
// mint itself is stored under the bare symbol.
func TokenAccountKey(symbol string) string {
	return symbol + "_TOKEN_ACCOUNT"
}

// Manifest is a flat key to address mapping that remembers insertion order.
// Setting an existing key updates its value in place.
type Manifest struct {
	entries *linkedhashmap.Map
}

func NewManifest() *Manifest {
	return &Manifest{entries: linkedhashmap.New()}
}

func (m *Manifest) Set(key, value string) {
	m.entries.Put(key, value)
}

func (m *Manifest) Get(key string) (string, bool) {
	value, ok := m.entries.Get(key)
	if !ok {
		return "", false
	}
	return value.(string), true
}

func (m *Manifest) Len() int {
	return m.entries.Size()
}

// Keys returns the keys in insertion order.
func (m *Manifest) Keys() []string {
	keys := make([]string, 0, m.entries.Size())
	for _, k := range m.entries.Keys() {
		keys = append(keys, k.(string))
	}
	return keys
}

// Each calls fn for every entry in insertion order.
func (m *Manifest) Each(fn func(key, value string)) {
	it := m.entries.Iterator()
	for it.Next() {
		fn(it.Key().(string), it.Value().(string))
	}
}

// MarshalJSON encodes the manifest as a JSON object with keys in insertion
// order.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	var err error
	first := true
	m.Each(func(key, value string) {
		if err != nil {
			return
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		var k, v []byte
		if k, err = json.Marshal(key); err != nil {
			return
		}
		if v, err = json.Marshal(value); err != nil {
			return
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode manifest")
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalIndent encodes the manifest as indented JSON followed by a newline.
func (m *Manifest) MarshalIndent() ([]byte, error) {
	compact, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, errors.Wrap(err, "failed to indent manifest")
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}
