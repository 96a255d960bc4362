package quote

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"strikelend/core/events"
	"strikelend/ledger"
	"strikelend/native/loan"
)

var (
	// ErrQuoteExpired reports a fill attempted after the quote deadline.
	ErrQuoteExpired = errors.New("quote engine: quote deadline passed")

	// ErrSignatureInvalid reports a signature that does not recover to the
	// quoted lender.
	ErrSignatureInvalid = errors.New("quote engine: signature invalid")

	// ErrNonceUsed reports a (lender, nonce) pair that already originated a
	// loan. Consumed nonces are never released.
	ErrNonceUsed = errors.New("quote engine: nonce already consumed")

	// ErrInsufficientFunds reports a party that cannot cover its leg of the
	// origination transfer.
	ErrInsufficientFunds = errors.New("quote engine: insufficient funds")

	// ErrSelfFill reports a borrower filling its own quote. The two principals
	// must differ or the origination transfers degenerate.
	ErrSelfFill = errors.New("quote engine: borrower and lender must differ")

	errNilState    = errors.New("quote engine: state not configured")
	errNilLoans    = errors.New("quote engine: loan engine not configured")
	errNilLedger   = errors.New("quote engine: ledger not configured")
	errNilTreasury = errors.New("quote engine: fee treasury not configured")
)

var basisPoints = big.NewInt(10_000)

// engineState persists the per-lender consumed nonce set. The set grows
// monotonically and is never pruned.
type engineState interface {
	QuoteNonceUsed(lender [20]byte, nonce uint64) (bool, error)
	QuoteNonceConsume(lender [20]byte, nonce uint64) error
}

// Engine fills signed lender quotes: it verifies the signature and replay
// protection, moves the initial funds and hands the resulting loan record to
// the settlement engine. It is the only producer of new loans.
type Engine struct {
	mu          sync.Mutex
	state       engineState
	loans       *loan.Engine
	book        *ledger.Book
	emitter     events.Emitter
	feeTreasury [20]byte
	nowFn       func() int64
}

// NewEngine creates an origination engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the nonce registry backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLoanEngine wires the settlement engine that owns created records.
func (e *Engine) SetLoanEngine(loans *loan.Engine) { e.loans = loans }

// SetLedger configures the balance book used for origination transfers.
func (e *Engine) SetLedger(book *ledger.Book) { e.book = book }

// SetFeeTreasury configures the address receiving origination fees.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.feeTreasury = addr }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// VerifySignature checks that the signature recovers to the quoted lender.
func VerifySignature(q *Quote, signature []byte) error {
	hash, err := q.Hash()
	if err != nil {
		return err
	}
	if len(signature) != 65 {
		return ErrSignatureInvalid
	}
	pubKey, err := ethcrypto.SigToPub(hash, signature)
	if err != nil {
		return ErrSignatureInvalid
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	if recovered != ethcommon.BytesToAddress(q.Lender[:]) {
		return ErrSignatureInvalid
	}
	return nil
}

// Fill accepts a signed quote on behalf of the borrower: it validates the
// terms, consumes the lender nonce, escrows the collateral, disburses the
// principal net of the origination fee and creates the loan record. The
// nonce check-and-consume happens under the engine lock, atomically with the
// rest of the operation.
func (e *Engine) Fill(q *Quote, signature []byte, borrower [20]byte) (*loan.Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.loans == nil {
		return nil, errNilLoans
	}
	if e.book == nil {
		return nil, errNilLedger
	}
	if q == nil {
		return nil, fmt.Errorf("quote engine: nil quote")
	}
	if borrower == q.Lender {
		return nil, ErrSelfFill
	}
	if q.FeeBps > 10_000 {
		return nil, fmt.Errorf("quote engine: fee bps out of range: %d", q.FeeBps)
	}
	if q.FeeBps > 0 && e.feeTreasury == ([20]byte{}) {
		return nil, errNilTreasury
	}
	now := e.now()
	if q.Deadline > 0 && now > q.Deadline {
		return nil, ErrQuoteExpired
	}
	if err := VerifySignature(q, signature); err != nil {
		return nil, err
	}

	id := loan.LoanID(q.Lender, borrower, q.Nonce)
	draft := &loan.Loan{
		ID:               id,
		Borrower:         borrower,
		Lender:           q.Lender,
		CollateralAsset:  q.CollateralAsset,
		DebtAsset:        q.DebtAsset,
		CollateralAmount: cloneBigInt(q.CollateralAmount),
		Principal:        cloneBigInt(q.Principal),
		RepaymentAmount:  cloneBigInt(q.RepaymentAmount),
		Expiry:           q.Expiry,
		CallStrike:       cloneBigInt(q.CallStrike),
		OracleName:       q.OracleName,
		Refi:             q.Refi,
	}
	sanitized, err := loan.Sanitize(draft)
	if err != nil {
		return nil, err
	}
	// Everything the settlement engine would reject at Create must fail
	// here, before the lender nonce is consumed: a burned nonce with no
	// loan behind it can never be released.
	if sanitized.Expiry <= now {
		return nil, fmt.Errorf("quote engine: loan expiry must be in the future")
	}
	if !e.loans.HasOracle(sanitized.OracleName) {
		return nil, fmt.Errorf("quote engine: oracle %q not registered", sanitized.OracleName)
	}
	if sanitized.Refi.Enabled && !e.loans.HasVenue(sanitized.Refi.Venue) {
		return nil, fmt.Errorf("quote engine: refinance venue %q not registered", sanitized.Refi.Venue)
	}
	// The price routing key is the signed trading pair; the venue adapter
	// uses the same key for its own health check.
	pair := []byte(sanitized.CollateralAsset + "/" + sanitized.DebtAsset)
	sanitized.OracleConfig = pair
	if sanitized.Refi.Enabled && len(sanitized.Refi.AdapterPayload) == 0 {
		sanitized.Refi.AdapterPayload = append([]byte(nil), pair...)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	used, err := e.state.QuoteNonceUsed(q.Lender, q.Nonce)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, ErrNonceUsed
	}

	fee := new(big.Int).Mul(sanitized.Principal, new(big.Int).SetUint64(uint64(q.FeeBps)))
	fee.Quo(fee, basisPoints)
	disbursed := new(big.Int).Sub(sanitized.Principal, fee)

	// Both legs are checked before any balance moves so a failed fill leaves
	// every account untouched.
	borrowerBalance, err := e.book.Balance(borrower, sanitized.CollateralAsset)
	if err != nil {
		return nil, err
	}
	if borrowerBalance.Cmp(sanitized.CollateralAmount) < 0 {
		return nil, fmt.Errorf("%w: borrower collateral", ErrInsufficientFunds)
	}
	lenderBalance, err := e.book.Balance(q.Lender, sanitized.DebtAsset)
	if err != nil {
		return nil, err
	}
	if lenderBalance.Cmp(sanitized.Principal) < 0 {
		return nil, fmt.Errorf("%w: lender principal", ErrInsufficientFunds)
	}

	if err := e.state.QuoteNonceConsume(q.Lender, q.Nonce); err != nil {
		return nil, err
	}
	created, err := e.loans.Create(sanitized)
	if err != nil {
		return nil, err
	}
	vault := ledger.VaultAddress(id)
	if err := e.book.Transfer(borrower, vault, created.CollateralAsset, created.CollateralAmount); err != nil {
		return nil, err
	}
	if err := e.book.Transfer(q.Lender, borrower, created.DebtAsset, disbursed); err != nil {
		return nil, err
	}
	if fee.Sign() > 0 {
		if err := e.book.Transfer(q.Lender, e.feeTreasury, created.DebtAsset, fee); err != nil {
			return nil, err
		}
	}

	e.emitter.Emit(events.QuoteFilled{
		ID:         created.ID,
		Lender:     created.Lender,
		Borrower:   created.Borrower,
		Nonce:      q.Nonce,
		Principal:  new(big.Int).Set(created.Principal),
		Fee:        fee,
		Collateral: new(big.Int).Set(created.CollateralAmount),
		Expiry:     created.Expiry,
	})
	return created, nil
}
