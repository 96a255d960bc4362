// Package market implements the leveraged money-market venue that refinance
// attempts borrow from. It plays the role of an external lending market: the
// settlement engine only ever talks to it through the refinance capability
// and treats every failure as a clean, retriable no-op.
package market

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"strikelend/ledger"
	"strikelend/native/loan"
)

var (
	errNilBook               = errors.New("market: ledger not configured")
	errInvalidAmount         = errors.New("market: amount must be positive")
	errInsufficientLiquidity = errors.New("market: insufficient liquidity")
	errPriceUnavailable      = errors.New("market: price unavailable")
	errLTVBreached           = errors.New("market: loan-to-value bound breached")
)

var basisPoints = big.NewInt(10_000)

// Params groups the venue's safety limits.
type Params struct {
	// MaxLTVBps bounds new debt against collateral value, in basis points.
	MaxLTVBps uint64
}

// Position is a leveraged borrow booked against supplied collateral.
type Position struct {
	ID              [32]byte
	Borrower        [20]byte
	CollateralAsset string
	DebtAsset       string
	Collateral      *big.Int
	Debt            *big.Int
	OpenedAt        int64
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Collateral = new(big.Int).Set(p.Collateral)
	clone.Debt = new(big.Int).Set(p.Debt)
	return &clone
}

// Market pools stable liquidity and books leveraged positions against it.
type Market struct {
	mu sync.Mutex

	vault  [20]byte
	book   *ledger.Book
	params Params
	prices loan.OraclePort
	nowFn  func() int64

	seq       uint64
	positions map[[32]byte]*Position
}

// New creates a market holding liquidity at the given vault address.
func New(vault [20]byte, book *ledger.Book, params Params) *Market {
	return &Market{
		vault:     vault,
		book:      book,
		params:    params,
		nowFn:     func() int64 { return time.Now().Unix() },
		positions: make(map[[32]byte]*Position),
	}
}

// SetPriceOracle wires the price source used for venue-side health checks.
func (m *Market) SetPriceOracle(port loan.OraclePort) {
	m.mu.Lock()
	m.prices = port
	m.mu.Unlock()
}

// SetNowFunc overrides the time source; intended for tests.
func (m *Market) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	m.mu.Lock()
	m.nowFn = now
	m.mu.Unlock()
}

// Vault returns the address holding the market's liquidity.
func (m *Market) Vault() [20]byte { return m.vault }

// SupplyLiquidity deposits debt-asset liquidity into the market vault.
func (m *Market) SupplyLiquidity(from [20]byte, asset string, amount *big.Int) error {
	if m == nil || m.book == nil {
		return errNilBook
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	return m.book.Transfer(from, m.vault, asset, amount)
}

// Liquidity reports the market's available balance for an asset.
func (m *Market) Liquidity(asset string) (*big.Int, error) {
	if m == nil || m.book == nil {
		return nil, errNilBook
	}
	return m.book.Balance(m.vault, asset)
}

// PositionsOf returns copies of the borrower's open positions.
func (m *Market) PositionsOf(borrower [20]byte) []*Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Position
	for _, pos := range m.positions {
		if pos.Borrower == borrower {
			result = append(result, pos.Clone())
		}
	}
	return result
}

// openPosition books a leveraged borrow: collateral moves from the holder
// into the market vault, debt is disbursed to the payee and recorded against
// the borrower. Every check runs before any balance moves so a failed open
// leaves no partial state behind.
func (m *Market) openPosition(borrower, collateralHolder, debtPayee [20]byte,
	collateralAsset, debtAsset string, collateral, debt *big.Int, pricePair []byte) (*Position, error) {

	if m == nil || m.book == nil {
		return nil, errNilBook
	}
	if collateral == nil || collateral.Sign() <= 0 || debt == nil || debt.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFn()
	if m.prices == nil {
		return nil, errPriceUnavailable
	}
	price, valid := m.prices.PriceAt(pricePair, now)
	if !valid || price == nil || price.Sign() <= 0 {
		return nil, errPriceUnavailable
	}
	// debt * 10000 <= maxLTV * collateral * price
	lhs := new(big.Int).Mul(debt, basisPoints)
	rhs := new(big.Int).Mul(collateral, price)
	rhs.Mul(rhs, new(big.Int).SetUint64(m.params.MaxLTVBps))
	if m.params.MaxLTVBps == 0 || lhs.Cmp(rhs) > 0 {
		return nil, fmt.Errorf("%w: debt %s at price %s", errLTVBreached, debt, price)
	}

	available, err := m.book.Balance(m.vault, debtAsset)
	if err != nil {
		return nil, err
	}
	if available.Cmp(debt) < 0 {
		return nil, errInsufficientLiquidity
	}
	holderBalance, err := m.book.Balance(collateralHolder, collateralAsset)
	if err != nil {
		return nil, err
	}
	if holderBalance.Cmp(collateral) < 0 {
		return nil, fmt.Errorf("%w: collateral", errInvalidAmount)
	}

	if err := m.book.Transfer(collateralHolder, m.vault, collateralAsset, collateral); err != nil {
		return nil, err
	}
	if err := m.book.Transfer(m.vault, debtPayee, debtAsset, debt); err != nil {
		return nil, err
	}

	m.seq++
	var seqBytes [8]byte
	for i := 0; i < 8; i++ {
		seqBytes[7-i] = byte(m.seq >> (8 * i))
	}
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(borrower[:], seqBytes[:]))
	pos := &Position{
		ID:              id,
		Borrower:        borrower,
		CollateralAsset: collateralAsset,
		DebtAsset:       debtAsset,
		Collateral:      new(big.Int).Set(collateral),
		Debt:            new(big.Int).Set(debt),
		OpenedAt:        now,
	}
	m.positions[pos.ID] = pos
	return pos.Clone(), nil
}
