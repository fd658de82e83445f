package paymentsystem

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"

	"github.com/mr-tron/base58"
)

var (
	ErrInvalidProgram         = errors.New("invalid program id")
	ErrInvalidAccountData     = errors.New("unexpected account data")
	ErrInvalidInstructionData = errors.New("unexpected instruction data")
)

var (
	PROGRAM_ADDRESS = mustBase58Decode("48xuDnaYoAgo7dEZaJUt5xxrkfUYBbySWBWwNrydHEhU")
	PROGRAM_ID      = ed25519.PublicKey(PROGRAM_ADDRESS)
)

var (
	SYSTEM_PROGRAM_ID = ed25519.PublicKey(mustBase58Decode("11111111111111111111111111111111"))
)

// instructionDiscriminator returns the 8 byte prefix Anchor places in front
// of the arguments of the named instruction.
func instructionDiscriminator(name string) []byte {
	return anchorDiscriminator("global", name)
}

// accountDiscriminator returns the 8 byte prefix Anchor places in front of
// the data of accounts of the named type.
func accountDiscriminator(name string) []byte {
	return anchorDiscriminator("account", name)
}

func anchorDiscriminator(namespace, name string) []byte {
	h := sha256.Sum256([]byte(namespace + ":" + name))
	return h[:8]
}

func mustBase58Decode(value string) []byte {
	decoded, err := base58.Decode(value)
	if err != nil {
		panic(err)
	}
	return decoded
}
