package memory

import (
	"bytes"
	"crypto/ed25519"
	"math"

	"github.com/pkg/errors"

	"github.com/qbitflow/bootstrap/pkg/solana"
	"github.com/qbitflow/bootstrap/pkg/solana/computebudget"
	"github.com/qbitflow/bootstrap/pkg/solana/memo"
	"github.com/qbitflow/bootstrap/pkg/solana/paymentsystem"
	"github.com/qbitflow/bootstrap/pkg/solana/system"
	"github.com/qbitflow/bootstrap/pkg/solana/token"
)

var (
	errIncorrectProgramID       = errors.New(string(solana.InstructionErrorIncorrectProgramID))
	errInvalidInstructionData   = errors.New(string(solana.InstructionErrorInvalidInstructionData))
	errInvalidAccountData       = errors.New(string(solana.InstructionErrorInvalidAccountData))
	errInvalidSeeds             = errors.New(string(solana.InstructionErrorInvalidSeeds))
	errMissingRequiredSignature = errors.New(string(solana.InstructionErrorMissingRequiredSignature))
	errReadonlyDataModified     = errors.New(string(solana.InstructionErrorReadonlyDataModified))
	errInsufficientFunds        = errors.New(string(solana.InstructionErrorInsufficientFunds))
	errUninitializedAccount     = errors.New(string(solana.InstructionErrorUninitializedAccount))
)

// Anchor framework error codes.
const (
	anchorConstraintSeeds         solana.CustomError = 2006
	anchorAccountNotInitialized   solana.CustomError = 3012
	anchorAccountOwnedByWrongProg solana.CustomError = 3007
)

// execute runs the instruction at index against state. The returned string
// is the memo carried by the instruction, if any.
func (l *Ledger) execute(state map[string]*solana.AccountInfo, m solana.Message, index int) (string, error) {
	program := m.Accounts[m.Instructions[index].ProgramIndex]

	switch {
	case bytes.Equal(program, system.ProgramKey[:]):
		return "", l.executeSystem(state, m, index)
	case bytes.Equal(program, token.ProgramKey):
		return "", l.executeToken(state, m, index)
	case bytes.Equal(program, token.AssociatedTokenAccountProgramKey):
		return "", l.executeAssociatedTokenAccount(state, m, index)
	case bytes.Equal(program, l.paymentSystem):
		return "", l.executePaymentSystem(state, m, index)
	case bytes.Equal(program, memo.ProgramKey):
		decompiled, err := memo.DecompileMemo(m, index)
		if err != nil {
			return "", errInvalidInstructionData
		}
		return string(decompiled.Data), nil
	case computebudget.IsComputeBudgetInstruction(m, index):
		return "", nil
	default:
		return "", errIncorrectProgramID
	}
}

func (l *Ledger) executeSystem(state map[string]*solana.AccountInfo, m solana.Message, index int) error {
	ixn, err := system.DecompileCreateAccount(m, index)
	if err != nil {
		return errInvalidInstructionData
	}

	if err := requireSigner(m, ixn.Funder, ixn.Address); err != nil {
		return err
	}
	if err := requireWritable(m, ixn.Funder, ixn.Address); err != nil {
		return err
	}

	if existing, ok := state[key(ixn.Address)]; ok && !isEmpty(existing) {
		return system.ErrorAccountAlreadyInUse
	}
	if ixn.Size > 10*1024*1024 {
		return system.ErrorInvalidAccountDataLength
	}

	funder, ok := state[key(ixn.Funder)]
	if !ok || funder.Lamports < ixn.Lamports {
		return system.ErrorResultWithNegativeLamports
	}
	funder.Lamports -= ixn.Lamports

	state[key(ixn.Address)] = &solana.AccountInfo{
		Data:     make([]byte, ixn.Size),
		Owner:    ixn.Owner,
		Lamports: ixn.Lamports,
	}
	return nil
}

func (l *Ledger) executeToken(state map[string]*solana.AccountInfo, m solana.Message, index int) error {
	cmd, err := token.GetCommand(m, index)
	if err != nil {
		return errInvalidInstructionData
	}

	switch cmd {
	case token.CommandInitializeMint:
		ixn, err := token.DecompileInitializeMint(m, index)
		if err != nil {
			return errInvalidInstructionData
		}
		if err := requireWritable(m, ixn.Mint); err != nil {
			return err
		}

		info, ok := state[key(ixn.Mint)]
		if !ok || isEmpty(info) {
			return errUninitializedAccount
		}
		if !bytes.Equal(info.Owner, token.ProgramKey) {
			return errIncorrectProgramID
		}
		if len(info.Data) != token.MintSize {
			return token.ErrorInvalidState
		}
		if info.Lamports < RentExemption(token.MintSize) {
			return token.ErrorNotRentExempt
		}

		var mint token.Mint
		mint.Unmarshal(info.Data)
		if mint.IsInitialized {
			return token.ErrorAlreadyInUse
		}

		mint = token.Mint{
			MintAuthority:   ixn.MintAuthority,
			Decimals:        ixn.Decimals,
			IsInitialized:   true,
			FreezeAuthority: ixn.FreezeAuthority,
		}
		info.Data = mint.Marshal()
		return nil

	case token.CommandMintTo:
		ixn, err := token.DecompileMintTo(m, index)
		if err != nil {
			return errInvalidInstructionData
		}
		if err := requireWritable(m, ixn.Mint, ixn.Destination); err != nil {
			return err
		}

		mintInfo, mint, ok := l.mint(state, ixn.Mint)
		if !ok {
			return token.ErrorInvalidMint
		}
		destInfo, dest, ok := l.tokenAccountInfo(state, ixn.Destination)
		if !ok {
			return token.ErrorUninitializedState
		}
		if !bytes.Equal(dest.Mint, ixn.Mint) {
			return token.ErrorMintMismatch
		}
		if len(mint.MintAuthority) == 0 {
			return token.ErrorFixedSupply
		}
		if !bytes.Equal(mint.MintAuthority, ixn.Authority) {
			return token.ErrorOwnerMismatch
		}
		if err := requireSigner(m, ixn.Authority); err != nil {
			return err
		}
		if mint.Supply > math.MaxUint64-ixn.Amount || dest.Amount > math.MaxUint64-ixn.Amount {
			return token.ErrorOverflow
		}

		mint.Supply += ixn.Amount
		dest.Amount += ixn.Amount
		mintInfo.Data = mint.Marshal()
		destInfo.Data = dest.Marshal()
		return nil

	default:
		return token.ErrorInvalidInstruction
	}
}

func (l *Ledger) executeAssociatedTokenAccount(state map[string]*solana.AccountInfo, m solana.Message, index int) error {
	ixn, err := token.DecompileCreateAssociatedAccount(m, index)
	if err != nil {
		return errInvalidInstructionData
	}
	if err := requireSigner(m, ixn.Subsidizer); err != nil {
		return err
	}
	if err := requireWritable(m, ixn.Subsidizer, ixn.Address); err != nil {
		return err
	}

	expected, err := token.GetAssociatedAccount(ixn.Owner, ixn.Mint)
	if err != nil || !bytes.Equal(expected, ixn.Address) {
		return errInvalidSeeds
	}
	if _, _, ok := l.mint(state, ixn.Mint); !ok {
		return errIncorrectProgramID
	}

	if existing, ok := state[key(ixn.Address)]; ok && !isEmpty(existing) {
		if !ixn.Idempotent {
			return system.ErrorAccountAlreadyInUse
		}
		_, account, ok := l.tokenAccountInfo(state, ixn.Address)
		if !ok || !bytes.Equal(account.Owner, ixn.Owner) || !bytes.Equal(account.Mint, ixn.Mint) {
			return errInvalidAccountData
		}
		return nil
	}

	rent := RentExemption(token.AccountSize)
	subsidizer, ok := state[key(ixn.Subsidizer)]
	if !ok || subsidizer.Lamports < rent {
		return errInsufficientFunds
	}
	subsidizer.Lamports -= rent

	account := token.Account{
		Mint:  ixn.Mint,
		Owner: ixn.Owner,
		State: token.AccountStateInitialized,
	}
	state[key(ixn.Address)] = &solana.AccountInfo{
		Data:     account.Marshal(),
		Owner:    token.ProgramKey,
		Lamports: rent,
	}
	return nil
}

func (l *Ledger) executePaymentSystem(state map[string]*solana.AccountInfo, m solana.Message, index int) error {
	if ixn, err := paymentsystem.DecompileInitialize(m, index, l.paymentSystem); err == nil {
		if err := requireSigner(m, ixn.Signer); err != nil {
			return err
		}
		if err := requireWritable(m, ixn.Signer, ixn.Authority); err != nil {
			return err
		}

		expected, bump, err := paymentsystem.GetAuthorityAddress(l.paymentSystem)
		if err != nil || !bytes.Equal(expected, ixn.Authority) {
			return anchorConstraintSeeds
		}

		// Anchor allocates the account through the system program, which
		// refuses to reuse an address.
		if existing, ok := state[key(ixn.Authority)]; ok && !isEmpty(existing) {
			return system.ErrorAccountAlreadyInUse
		}

		rent := RentExemption(paymentsystem.AuthorityAccountSize)
		signer, ok := state[key(ixn.Signer)]
		if !ok || signer.Lamports < rent {
			return system.ErrorResultWithNegativeLamports
		}
		signer.Lamports -= rent

		authority := &paymentsystem.AuthorityAccount{
			Owner:    ixn.Signer,
			CoSigner: ixn.CoSigner,
			Bump:     bump,
		}
		state[key(ixn.Authority)] = &solana.AccountInfo{
			Data:     authority.Marshal(),
			Owner:    l.paymentSystem,
			Lamports: rent,
		}
		return nil
	}

	ixn, err := paymentsystem.DecompileUpdateOwner(m, index, l.paymentSystem)
	if err != nil {
		return errInvalidInstructionData
	}
	if err := requireSigner(m, ixn.Owner, ixn.CoSigner); err != nil {
		return err
	}
	if err := requireWritable(m, ixn.Authority); err != nil {
		return err
	}

	info, ok := state[key(ixn.Authority)]
	if !ok || isEmpty(info) {
		return anchorAccountNotInitialized
	}
	if !bytes.Equal(info.Owner, l.paymentSystem) {
		return anchorAccountOwnedByWrongProg
	}

	var authority paymentsystem.AuthorityAccount
	if err := authority.Unmarshal(info.Data); err != nil {
		return errInvalidAccountData
	}
	if !bytes.Equal(authority.Owner, ixn.Owner) || !bytes.Equal(authority.CoSigner, ixn.CoSigner) {
		return solana.CustomError(paymentsystem.Unauthorized)
	}

	authority.Owner = ixn.NewOwner
	info.Data = authority.Marshal()
	return nil
}

func (l *Ledger) mint(state map[string]*solana.AccountInfo, address ed25519.PublicKey) (*solana.AccountInfo, *token.Mint, bool) {
	info, ok := state[key(address)]
	if !ok || !bytes.Equal(info.Owner, token.ProgramKey) {
		return nil, nil, false
	}

	var mint token.Mint
	if !mint.Unmarshal(info.Data) || !mint.IsInitialized {
		return nil, nil, false
	}
	return info, &mint, true
}

func (l *Ledger) tokenAccountInfo(state map[string]*solana.AccountInfo, address ed25519.PublicKey) (*solana.AccountInfo, *token.Account, bool) {
	info, ok := state[key(address)]
	if !ok || !bytes.Equal(info.Owner, token.ProgramKey) {
		return nil, nil, false
	}

	var account token.Account
	if !account.Unmarshal(info.Data) || account.State == token.AccountStateUninitialized {
		return nil, nil, false
	}
	return info, &account, true
}

func (l *Ledger) tokenAccount(state map[string]*solana.AccountInfo, address ed25519.PublicKey) (*token.Account, bool) {
	_, account, ok := l.tokenAccountInfo(state, address)
	return account, ok
}

func requireSigner(m solana.Message, accounts ...ed25519.PublicKey) error {
	for _, account := range accounts {
		i := indexOf(m.Accounts, account)
		if i < 0 || !m.IsSigner(i) {
			return errMissingRequiredSignature
		}
	}
	return nil
}

func requireWritable(m solana.Message, accounts ...ed25519.PublicKey) error {
	for _, account := range accounts {
		i := indexOf(m.Accounts, account)
		if i < 0 || !m.IsWritable(i) {
			return errReadonlyDataModified
		}
	}
	return nil
}

func indexOf(accounts []ed25519.PublicKey, account ed25519.PublicKey) int {
	for i, a := range accounts {
		if bytes.Equal(a, account) {
			return i
		}
	}
	return -1
}
