package memory

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/qbitflow/bootstrap/pkg/solana"
	"github.com/qbitflow/bootstrap/pkg/solana/paymentsystem"
)

const (
	// LamportsPerSignature is the fee charged to the fee payer for every
	// signature on a submitted transaction.
	LamportsPerSignature = 5000

	rentLamportsPerByteYear = 3480
	rentExemptionYears      = 2
	accountStorageOverhead  = 128

	maxRecentBlockhashes = 150
)

// Ledger is an in-memory solana.Client. It executes the subset of programs
// used to bootstrap a deployment against a map of accounts, and finalizes
// every transaction immediately.
type Ledger struct {
	mu sync.Mutex

	accounts map[string]*solana.AccountInfo
	statuses map[solana.Signature]*solana.SignatureStatus

	slot      uint64
	blockhash solana.Blockhash
	recent    []solana.Blockhash

	paymentSystem ed25519.PublicKey

	airdropErr   error
	airdrops     int
	transactions int
	memos        []string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPaymentSystemProgram sets the address the payment system program is
// deployed at. The default is paymentsystem.PROGRAM_ID.
func WithPaymentSystemProgram(program ed25519.PublicKey) Option {
	return func(l *Ledger) {
		l.paymentSystem = program
	}
}

// New returns an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		accounts:      make(map[string]*solana.AccountInfo),
		statuses:      make(map[solana.Signature]*solana.SignatureStatus),
		paymentSystem: paymentsystem.PROGRAM_ID,
	}
	for _, o := range opts {
		o(l)
	}
	l.advance()
	return l
}

// RentExemption is the minimum balance an account of size bytes must hold.
func RentExemption(size uint64) uint64 {
	return (accountStorageOverhead + size) * rentLamportsPerByteYear * rentExemptionYears
}

// SetBalance credits or debits a system account to exactly lamports.
func (l *Ledger) SetBalance(account ed25519.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.accounts[key(account)]
	if !ok {
		info = &solana.AccountInfo{Owner: systemProgram()}
		l.accounts[key(account)] = info
	}
	info.Lamports = lamports
}

// SetAccount overwrites the account at the given address.
func (l *Ledger) SetAccount(account ed25519.PublicKey, info solana.AccountInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts[key(account)] = cloneAccount(&info)
}

// DeleteAccount removes the account, as if it had been closed.
func (l *Ledger) DeleteAccount(account ed25519.PublicKey) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.accounts, key(account))
}

// SetAirdropError makes every subsequent airdrop request fail with err. A
// nil err restores the faucet.
func (l *Ledger) SetAirdropError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.airdropErr = err
}

// AirdropRequests returns the number of airdrop requests received.
func (l *Ledger) AirdropRequests() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.airdrops
}

// Transactions returns the number of transactions that were executed,
// including failed ones.
func (l *Ledger) Transactions() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.transactions
}

// Memos returns the memos of all successfully executed transactions, in
// execution order.
func (l *Ledger) Memos() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.memos...)
}

func (l *Ledger) GetAccountInfo(account ed25519.PublicKey, _ solana.Commitment) (solana.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.accounts[key(account)]
	if !ok || isEmpty(info) {
		return solana.AccountInfo{}, solana.ErrNoAccountInfo
	}
	return *cloneAccount(info), nil
}

func (l *Ledger) GetBalance(account ed25519.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.accounts[key(account)]
	if !ok {
		return 0, nil
	}
	return info.Lamports, nil
}

func (l *Ledger) GetMinimumBalanceForRentExemption(size uint64) (uint64, error) {
	return RentExemption(size), nil
}

func (l *Ledger) GetLatestBlockhash() (solana.Blockhash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.blockhash, nil
}

func (l *Ledger) GetSignatureStatus(sig solana.Signature, commitment solana.Commitment) (*solana.SignatureStatus, error) {
	return solana.PollSignatureStatus(l, sig, commitment)
}

func (l *Ledger) GetSignatureStatuses(sigs []solana.Signature) ([]*solana.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	statuses := make([]*solana.SignatureStatus, len(sigs))
	for i, sig := range sigs {
		if s, ok := l.statuses[sig]; ok {
			cloned := *s
			statuses[i] = &cloned
		}
	}
	return statuses, nil
}

func (l *Ledger) GetTokenAccountBalance(account ed25519.PublicKey) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tokenAccount, ok := l.tokenAccount(l.accounts, account)
	if !ok {
		return 0, solana.ErrNoBalance
	}
	return tokenAccount.Amount, nil
}

func (l *Ledger) RequestAirdrop(account ed25519.PublicKey, lamports uint64, _ solana.Commitment) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.airdrops++
	if l.airdropErr != nil {
		return solana.Signature{}, l.airdropErr
	}

	info, ok := l.accounts[key(account)]
	if !ok {
		info = &solana.AccountInfo{Owner: systemProgram()}
		l.accounts[key(account)] = info
	}
	info.Lamports += lamports

	var sig solana.Signature
	if _, err := rand.Read(sig[:]); err != nil {
		return solana.Signature{}, errors.Wrap(err, "failed to generate signature")
	}
	l.finalize(sig, nil)

	return sig, nil
}

// SubmitTransaction verifies and executes the transaction. Transactions that
// fail before execution are rejected with a *solana.TransactionError. Those
// that fail during execution are charged their fee, leave no other trace on
// the ledger, and report the failure through their signature status.
func (l *Ledger) SubmitTransaction(txn solana.Transaction, _ solana.Commitment) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(txn.Signatures) == 0 {
		return solana.Signature{}, solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)
	}
	sig := txn.Signatures[0]

	if err := txn.Verify(); err != nil {
		return sig, solana.NewTransactionError(solana.TransactionErrorSignatureFailure)
	}
	if _, ok := l.statuses[sig]; ok {
		return sig, solana.NewTransactionError(solana.TransactionErrorDuplicateSignature)
	}
	if !l.isRecent(txn.Message.RecentBlockhash) {
		return sig, solana.NewTransactionError(solana.TransactionErrorBlockhashNotFound)
	}

	fee := uint64(LamportsPerSignature * len(txn.Signatures))
	payer, ok := l.accounts[key(txn.Message.Accounts[0])]
	if !ok || payer.Lamports < fee {
		return sig, solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee)
	}

	l.transactions++
	payer.Lamports -= fee

	state := make(map[string]*solana.AccountInfo, len(l.accounts))
	for k, v := range l.accounts {
		state[k] = cloneAccount(v)
	}

	var memos []string
	for i := range txn.Message.Instructions {
		memo, err := l.execute(state, txn.Message, i)
		if err != nil {
			txErr, convErr := solana.TransactionErrorFromInstructionError(&solana.InstructionError{
				Index: i,
				Err:   err,
			})
			if convErr != nil {
				return sig, errors.Wrap(convErr, "failed to build transaction error")
			}
			l.finalize(sig, txErr)
			return sig, nil
		}
		if memo != "" {
			memos = append(memos, memo)
		}
	}

	l.accounts = state
	l.memos = append(l.memos, memos...)
	l.finalize(sig, nil)

	return sig, nil
}

func (l *Ledger) finalize(sig solana.Signature, txErr *solana.TransactionError) {
	l.statuses[sig] = &solana.SignatureStatus{
		Slot:               l.slot,
		ErrorResult:        txErr,
		ConfirmationStatus: "finalized",
	}
	l.advance()
}

func (l *Ledger) advance() {
	l.slot++

	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], l.slot)
	l.blockhash = sha256.Sum256(append(seed[:], l.paymentSystem...))

	l.recent = append(l.recent, l.blockhash)
	if len(l.recent) > maxRecentBlockhashes {
		l.recent = l.recent[1:]
	}
}

func (l *Ledger) isRecent(bh solana.Blockhash) bool {
	for _, r := range l.recent {
		if r == bh {
			return true
		}
	}
	return false
}

func key(account ed25519.PublicKey) string {
	return base58.Encode(account)
}

func systemProgram() ed25519.PublicKey {
	return make(ed25519.PublicKey, ed25519.PublicKeySize)
}

func isEmpty(info *solana.AccountInfo) bool {
	return info.Lamports == 0 && len(info.Data) == 0
}

func cloneAccount(info *solana.AccountInfo) *solana.AccountInfo {
	return &solana.AccountInfo{
		Data:       append([]byte(nil), info.Data...),
		Owner:      append(ed25519.PublicKey(nil), info.Owner...),
		Lamports:   info.Lamports,
		Executable: info.Executable,
	}
}
