package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"strikelend/core/types"
)

var (
	errNilState      = errors.New("ledger: state not configured")
	errInvalidAmount = errors.New("ledger: amount must be non-negative")

	// ErrInsufficientBalance reports a transfer exceeding the sender's
	// balance. Exported so origination can surface underfunded quotes.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
)

// State abstracts account persistence for the balance book.
type State interface {
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

// BatchState is implemented by stores that can persist several accounts in
// one atomic write. Transfer prefers it so a crash can never land between
// the debit and the credit.
type BatchState interface {
	PutAccounts(accounts map[[20]byte]*types.Account) error
}

// Book moves asset balances between principals. It performs no lifecycle
// logic of its own; the engines above it decide when transfers are legal.
type Book struct {
	state State
}

// NewBook wires a balance book to the supplied account state.
func NewBook(state State) *Book {
	return &Book{state: state}
}

// NormalizeAsset canonicalises an asset symbol. Symbols are case-insensitive
// and must be non-empty.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("ledger: empty asset symbol")
	}
	return trimmed, nil
}

// VaultAddress derives the deterministic escrow address owned by a loan. The
// derivation is a keccak hash so vault addresses can never collide with key
// derived principals.
func VaultAddress(id [32]byte) [20]byte {
	hash := ethcrypto.Keccak256([]byte("strikelend/vault"), id[:])
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return types.NewAccount()
	}
	if acc.Balances == nil {
		acc.Balances = make(map[string]*big.Int)
	}
	return acc
}

// Balance reports the balance held by addr for the supplied asset.
func (b *Book) Balance(addr [20]byte, asset string) (*big.Int, error) {
	if b == nil || b.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	acc, err := b.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return ensureAccount(acc).Balance(normalized), nil
}

// Credit adds the amount to the recipient's balance. Used by genesis funding
// and the market's interest accounting.
func (b *Book) Credit(addr [20]byte, asset string, amount *big.Int) error {
	if b == nil || b.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	acc, err := b.state.GetAccount(addr)
	if err != nil {
		return err
	}
	acc = ensureAccount(acc)
	acc.SetBalance(normalized, new(big.Int).Add(acc.Balance(normalized), amount))
	return b.state.PutAccount(addr, acc)
}

// Transfer moves amount of asset from one principal to another. Zero-amount
// transfers are no-ops so settlement splits with an empty side stay simple.
func (b *Book) Transfer(from, to [20]byte, asset string, amount *big.Int) error {
	if b == nil || b.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	fromAcc, err := b.state.GetAccount(from)
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	balance := fromAcc.Balance(normalized)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	// A funded self-transfer is a no-op. Loading both sides as separate
	// instances would apply the credit on top of the undebited copy.
	if from == to {
		return nil
	}
	toAcc, err := b.state.GetAccount(to)
	if err != nil {
		return err
	}
	toAcc = ensureAccount(toAcc)
	fromAcc.SetBalance(normalized, balance.Sub(balance, amount))
	toAcc.SetBalance(normalized, new(big.Int).Add(toAcc.Balance(normalized), amount))
	if batch, ok := b.state.(BatchState); ok {
		return batch.PutAccounts(map[[20]byte]*types.Account{from: fromAcc, to: toAcc})
	}
	if err := b.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return b.state.PutAccount(to, toAcc)
}
