package paymentsystem

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/qbitflow/bootstrap/pkg/solana"
)

var InitializeInstructionDiscriminator = instructionDiscriminator("initialize")

const (
	InitializeInstructionArgsSize = 32 // co_signer
)

type InitializeInstructionArgs struct {
	CoSigner ed25519.PublicKey
}

type InitializeInstructionAccounts struct {
	Authority ed25519.PublicKey
	Signer    ed25519.PublicKey
}

// NewInitializeInstruction creates the authority PDA, recording the signer as
// owner alongside the co-signer.
func NewInitializeInstruction(
	program ed25519.PublicKey,
	accounts *InitializeInstructionAccounts,
	args *InitializeInstructionArgs,
) solana.Instruction {
	var offset int

	// Serialize instruction arguments
	data := make([]byte,
		len(InitializeInstructionDiscriminator)+
			InitializeInstructionArgsSize)

	putDiscriminator(data, InitializeInstructionDiscriminator, &offset)
	putKey(data, args.CoSigner, &offset)

	return solana.NewInstruction(
		program,
		data,
		solana.NewAccountMeta(accounts.Authority, false),
		solana.NewAccountMeta(accounts.Signer, true),
		solana.NewReadonlyAccountMeta(SYSTEM_PROGRAM_ID, false),
	)
}

type DecompiledInitialize struct {
	Authority ed25519.PublicKey
	Signer    ed25519.PublicKey
	CoSigner  ed25519.PublicKey
}

func DecompileInitialize(m solana.Message, index int, program ed25519.PublicKey) (*DecompiledInitialize, error) {
	if index >= len(m.Instructions) {
		return nil, errors.Errorf("instruction doesn't exist at %d", index)
	}

	i := m.Instructions[index]

	if !bytes.Equal(m.Accounts[i.ProgramIndex], program) {
		return nil, ErrInvalidProgram
	}
	if len(i.Data) != len(InitializeInstructionDiscriminator)+InitializeInstructionArgsSize {
		return nil, ErrInvalidInstructionData
	}
	if !bytes.Equal(i.Data[:8], InitializeInstructionDiscriminator) {
		return nil, solana.ErrIncorrectInstruction
	}
	if len(i.Accounts) != 3 {
		return nil, errors.Errorf("invalid number of accounts: %d", len(i.Accounts))
	}
	if !bytes.Equal(m.Accounts[i.Accounts[2]], SYSTEM_PROGRAM_ID) {
		return nil, errors.New("invalid system program")
	}

	offset := 8
	v := &DecompiledInitialize{
		Authority: m.Accounts[i.Accounts[0]],
		Signer:    m.Accounts[i.Accounts[1]],
	}
	getKey(i.Data, &v.CoSigner, &offset)

	return v, nil
}
