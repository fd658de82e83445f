package paymentsystem

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

const (
	AuthorityAccountSize = (8 + // discriminator
		32 + // owner
		32 + // co_signer
		1) // bump
)

var AuthorityAccountDiscriminator = accountDiscriminator("Authority")

type AuthorityAccount struct {
	Owner    ed25519.PublicKey
	CoSigner ed25519.PublicKey
	Bump     uint8
}

func (obj *AuthorityAccount) Marshal() []byte {
	var offset int

	data := make([]byte, AuthorityAccountSize)
	putDiscriminator(data, AuthorityAccountDiscriminator, &offset)
	putKey(data, obj.Owner, &offset)
	putKey(data, obj.CoSigner, &offset)
	putUint8(data, obj.Bump, &offset)

	return data
}

func (obj *AuthorityAccount) Unmarshal(data []byte) error {
	if len(data) < AuthorityAccountSize {
		return ErrInvalidAccountData
	}

	var offset int

	var discriminator []byte
	getDiscriminator(data, &discriminator, &offset)
	if !bytes.Equal(discriminator, AuthorityAccountDiscriminator) {
		return ErrInvalidAccountData
	}

	getKey(data, &obj.Owner, &offset)
	getKey(data, &obj.CoSigner, &offset)
	getUint8(data, &obj.Bump, &offset)

	return nil
}

func (obj *AuthorityAccount) String() string {
	return fmt.Sprintf(
		"Authority{owner=%s,co_signer=%s,bump=%d}",
		base58.Encode(obj.Owner),
		base58.Encode(obj.CoSigner),
		obj.Bump,
	)
}
