package common

import (
	"crypto/ed25519"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qbitflow/bootstrap/pkg/solana/token"
)

func TestAccountWithPublicKey(t *testing.T) {
	publicKey, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var accounts []*Account

	account, err := NewAccountFromPublicKeyBytes(publicKey)
	require.NoError(t, err)
	accounts = append(accounts, account)

	account, err = NewAccountFromPublicKeyString(base58.Encode(publicKey))
	require.NoError(t, err)
	accounts = append(accounts, account)

	for _, account := range accounts {
		assert.EqualValues(t, publicKey, account.PublicKey().ToBytes())
		assert.Nil(t, account.PrivateKey())
		assert.Nil(t, account.Signer())
		assert.Equal(t, base58.Encode(publicKey), account.String())
		assert.True(t, account.IsOnCurve())

		_, err = account.Sign([]byte("message"))
		assert.Error(t, err)
	}
}

func TestAccountWithPrivateKey(t *testing.T) {
	publicKey, privateKey, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	var accounts []*Account

	account, err := NewAccountFromPrivateKeyBytes(privateKey)
	require.NoError(t, err)
	accounts = append(accounts, account)

	account, err = NewAccountFromPrivateKeyString(base58.Encode(privateKey))
	require.NoError(t, err)
	accounts = append(accounts, account)

	for _, account := range accounts {
		assert.EqualValues(t, publicKey, account.PublicKey().ToBytes())
		assert.EqualValues(t, privateKey, account.PrivateKey().ToBytes())
		assert.Equal(t, privateKey, account.Signer())

		message := []byte("message")
		signature, err := account.Sign(message)
		require.NoError(t, err)
		assert.Equal(t, ed25519.Sign(privateKey, message), signature)
	}

	// A public key is not a valid private key.
	_, err = NewAccountFromPrivateKeyString(base58.Encode(publicKey))
	assert.Error(t, err)
}

func TestToAssociatedTokenAccount(t *testing.T) {
	owner, err := NewRandomAccount()
	require.NoError(t, err)
	mint, err := NewRandomAccount()
	require.NoError(t, err)

	ata, err := owner.ToAssociatedTokenAccount(mint)
	require.NoError(t, err)

	expected, err := token.GetAssociatedAccount(owner.PublicKey().ToBytes(), mint.PublicKey().ToBytes())
	require.NoError(t, err)
	assert.EqualValues(t, expected, ata.PublicKey().ToBytes())
	assert.False(t, ata.IsOnCurve())
}

func TestKeypair_RoundTrip(t *testing.T) {
	account, err := NewRandomAccount()
	require.NoError(t, err)

	data, err := MarshalKeypair(account)
	require.NoError(t, err)
	assert.Equal(t, byte('['), data[0])

	decoded, err := UnmarshalKeypair(data)
	require.NoError(t, err)
	assert.Equal(t, account.PublicKey().ToBase58(), decoded.PublicKey().ToBase58())
	assert.Equal(t, account.PrivateKey().ToBytes(), decoded.PrivateKey().ToBytes())

	public, err := NewAccountFromPublicKeyBytes(account.PublicKey().ToBytes())
	require.NoError(t, err)
	_, err = MarshalKeypair(public)
	assert.Error(t, err)
}

func TestKeypair_Invalid(t *testing.T) {
	account, err := NewRandomAccount()
	require.NoError(t, err)
	valid, err := MarshalKeypair(account)
	require.NoError(t, err)

	var values []int
	require.NoError(t, json.Unmarshal(valid, &values))
	values[63] ^= 0x01
	tampered, err := json.Marshal(values)
	require.NoError(t, err)

	for _, data := range [][]byte{
		[]byte("not json"),
		[]byte("[1,2,3]"),
		[]byte(`{"key": 1}`),
		[]byte("[" + strings.Repeat("256,", 63) + "256]"),
		[]byte("[" + strings.Repeat("1,", 64) + "1]"),
		tampered,
	} {
		_, err := UnmarshalKeypair(data)
		assert.ErrorIs(t, err, ErrInvalidKeypair, string(data))
	}
}
