package paymentsystem

import (
	"crypto/ed25519"

	"github.com/qbitflow/bootstrap/pkg/solana"
)

var (
	authorityPrefix = []byte("authority")
)

// GetAuthorityAddress derives the program's singleton authority PDA.
func GetAuthorityAddress(program ed25519.PublicKey) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(
		program,
		authorityPrefix,
	)
}
