package paymentsystem

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/qbitflow/bootstrap/pkg/solana"
)

var UpdateOwnerInstructionDiscriminator = instructionDiscriminator("update_owner")

const (
	UpdateOwnerInstructionArgsSize = 32 // new_owner
)

type UpdateOwnerInstructionArgs struct {
	NewOwner ed25519.PublicKey
}

type UpdateOwnerInstructionAccounts struct {
	Authority ed25519.PublicKey
	Owner     ed25519.PublicKey
	CoSigner  ed25519.PublicKey
}

// NewUpdateOwnerInstruction transfers ownership of the authority PDA. Both
// the current owner and the co-signer must sign.
func NewUpdateOwnerInstruction(
	program ed25519.PublicKey,
	accounts *UpdateOwnerInstructionAccounts,
	args *UpdateOwnerInstructionArgs,
) solana.Instruction {
	var offset int

	// Serialize instruction arguments
	data := make([]byte,
		len(UpdateOwnerInstructionDiscriminator)+
			UpdateOwnerInstructionArgsSize)

	putDiscriminator(data, UpdateOwnerInstructionDiscriminator, &offset)
	putKey(data, args.NewOwner, &offset)

	return solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(accounts.Authority, false),
		solana.NewAccountMeta(accounts.Owner, true),
		solana.NewReadonlyAccountMeta(accounts.CoSigner, true),
	)
}

type DecompiledUpdateOwner struct {
	Authority ed25519.PublicKey
	Owner     ed25519.PublicKey
	CoSigner  ed25519.PublicKey
	NewOwner  ed25519.PublicKey
}

func DecompileUpdateOwner(m solana.Message, index int, program ed25519.PublicKey) (*DecompiledUpdateOwner, error) {
	if index >= len(m.Instructions) {
		return nil, errors.Errorf("instruction doesn't exist at %d", index)
	}

	i := m.Instructions[index]

	if !bytes.Equal(m.Accounts[i.ProgramIndex], program) {
		return nil, ErrInvalidProgram
	}
	if len(i.Data) != len(UpdateOwnerInstructionDiscriminator)+UpdateOwnerInstructionArgsSize {
		return nil, ErrInvalidInstructionData
	}
	if !bytes.Equal(i.Data[:8], UpdateOwnerInstructionDiscriminator) {
		return nil, solana.ErrIncorrectInstruction
	}
	if len(i.Accounts) != 3 {
		return nil, errors.Errorf("invalid number of accounts: %d", len(i.Accounts))
	}

	offset := 8
	v := &DecompiledUpdateOwner{
		Authority: m.Accounts[i.Accounts[0]],
		Owner:     m.Accounts[i.Accounts[1]],
		CoSigner:  m.Accounts[i.Accounts[2]],
	}
	getKey(i.Data, &v.NewOwner, &offset)

	return v, nil
}
