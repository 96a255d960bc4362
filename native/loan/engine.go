package loan

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"strikelend/core/events"
	"strikelend/ledger"
)

// engineState abstracts loan persistence. LoanGet must return an instance
// the engine may mutate freely; nothing becomes visible to other readers
// until LoanPut commits it.
type engineState interface {
	LoanGet(id [32]byte) (*Loan, bool)
	LoanPut(*Loan) error
}

// Ledger abstracts the balance book the engine pays claims through.
type Ledger interface {
	Transfer(from, to [20]byte, asset string, amount *big.Int) error
}

// Engine owns the loan lifecycle: it fixes the oracle price exactly once,
// classifies the settlement outcome, brokers refinance attempts and pays out
// claims. Loans are fully independent; each transition runs to completion
// under a per-loan lock, reconstructing the single-writer discipline the
// record needs when mutually distrusting callers race.
type Engine struct {
	state   engineState
	book    Ledger
	emitter events.Emitter
	nowFn   func() int64

	oracles map[string]OraclePort
	venues  map[string]RefinancePort

	mu    sync.Mutex
	locks map[[32]byte]*sync.Mutex
}

// NewEngine creates a loan engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		oracles: make(map[string]OraclePort),
		venues:  make(map[string]RefinancePort),
		locks:   make(map[[32]byte]*sync.Mutex),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the balance book used for claim payouts.
func (e *Engine) SetLedger(book Ledger) { e.book = book }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// RegisterOracle makes a price capability available under the given name.
func (e *Engine) RegisterOracle(name string, port OraclePort) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || port == nil {
		return
	}
	e.oracles[trimmed] = port
}

// RegisterVenue makes a refinance capability available under the given name.
func (e *Engine) RegisterVenue(name string, port RefinancePort) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || port == nil {
		return
	}
	e.venues[trimmed] = port
}

// HasOracle reports whether a price capability is registered under the name.
// Origination checks it so no loan can be created with a dangling reference.
func (e *Engine) HasOracle(name string) bool {
	_, ok := e.oracles[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// HasVenue reports whether a refinance capability is registered under the name.
func (e *Engine) HasVenue(name string) bool {
	_, ok := e.venues[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// lockLoan serialises transitions per loan. Different loans progress
// concurrently with no shared state beyond the lock table itself.
func (e *Engine) lockLoan(id [32]byte) func() {
	e.mu.Lock()
	lk, ok := e.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		e.locks[id] = lk
	}
	e.mu.Unlock()
	lk.Lock()
	return lk.Unlock
}

func (e *Engine) loadLoan(id [32]byte) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	l, ok := e.state.LoanGet(id)
	if !ok {
		return nil, ErrLoanNotFound
	}
	return l, nil
}

func (e *Engine) storeLoan(l *Loan) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.LoanPut(l)
}

// Create registers a newly originated loan record. All immutable terms are
// fixed here; a second initialization attempt for the same identifier fails.
func (e *Engine) Create(l *Loan) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	sanitized, err := Sanitize(l)
	if err != nil {
		return nil, err
	}
	if sanitized.Status != LoanActive {
		return nil, fmt.Errorf("loan: new records must start active")
	}
	if sanitized.SettlementPrice != nil || sanitized.RefiEligible {
		return nil, fmt.Errorf("loan: settlement state must be unset at creation")
	}
	if strings.TrimSpace(sanitized.OracleName) == "" {
		return nil, fmt.Errorf("loan: oracle reference required")
	}
	now := e.now()
	if sanitized.Expiry <= now {
		return nil, fmt.Errorf("loan: expiry must be in the future")
	}
	sanitized.OracleName = strings.ToLower(strings.TrimSpace(sanitized.OracleName))
	sanitized.Refi.Venue = strings.ToLower(strings.TrimSpace(sanitized.Refi.Venue))
	sanitized.CreatedAt = now

	unlock := e.lockLoan(sanitized.ID)
	defer unlock()
	if _, exists := e.state.LoanGet(sanitized.ID); exists {
		return nil, fmt.Errorf("loan: identifier already initialized")
	}
	if err := e.storeLoan(sanitized); err != nil {
		return nil, err
	}
	return sanitized.Clone(), nil
}

// Get returns a copy of the stored loan record.
func (e *Engine) Get(id [32]byte) (*Loan, error) {
	unlock := e.lockLoan(id)
	defer unlock()
	l, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	return l.Clone(), nil
}

// Expire drives the Active -> Expired transition: it reads the oracle exactly
// once with the loan's expiry timestamp, freezes the settlement price and the
// refinance eligibility derived from it. The call is idempotent: once the
// loan has left the active state it is a no-op, so other operations can use
// it as a precondition.
func (e *Engine) Expire(id [32]byte) error {
	unlock := e.lockLoan(id)
	defer unlock()
	l, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	return e.expireLocked(l)
}

func (e *Engine) expireLocked(l *Loan) error {
	if l.Status != LoanActive {
		return nil
	}
	now := e.now()
	if now < l.Expiry {
		return fmt.Errorf("%w: loan matures at %d", ErrNotYetPermitted, l.Expiry)
	}
	port, ok := e.oracles[l.OracleName]
	if !ok {
		return fmt.Errorf("%w: %q", errNoOracle, l.OracleName)
	}
	price, valid := port.PriceAt(l.OracleConfig, l.Expiry)
	if !valid || price == nil || price.Sign() <= 0 {
		return ErrOracleUnavailable
	}
	l.SettlementPrice = new(big.Int).Set(price)
	l.RefiEligible = l.Refi.Enabled &&
		refiEligible(l.CollateralAmount, l.RepaymentAmount, l.CallStrike, l.SettlementPrice)
	l.Status = LoanExpired
	if err := e.storeLoan(l); err != nil {
		return err
	}
	e.emit(events.LoanExpired{
		ID:              l.ID,
		SettlementPrice: new(big.Int).Set(l.SettlementPrice),
		RefiEligible:    l.RefiEligible,
		RefiDeadline:    l.RefiDeadline(),
	})
	return nil
}

// AttemptRefinance asks the configured venue to swap the loan's debt for a
// new position backed by the same collateral. Venue failures of any kind,
// including panics, are reported as success=false and never mutate status,
// so callers may retry until the grace window lapses. Only a true return
// finalizes the loan as refinanced.
func (e *Engine) AttemptRefinance(id [32]byte, caller [20]byte) (bool, error) {
	unlock := e.lockLoan(id)
	defer unlock()
	l, err := e.loadLoan(id)
	if err != nil {
		return false, err
	}
	if l.Status == LoanActive {
		if err := e.expireLocked(l); err != nil {
			return false, err
		}
	}
	if l.Status.Terminal() {
		return false, fmt.Errorf("%w: status %s", ErrAlreadyFinalized, l.Status)
	}
	if !l.Refi.Enabled {
		return false, fmt.Errorf("%w: refinancing disabled", ErrIneligible)
	}
	if !l.RefiEligible {
		return false, fmt.Errorf("%w: settlement price outside refinance region", ErrIneligible)
	}
	if e.now() > l.RefiDeadline() {
		return false, fmt.Errorf("%w: grace window elapsed at %d", ErrNotYetPermitted, l.RefiDeadline())
	}
	if !withinMaxLTV(l.CollateralAmount, l.RepaymentAmount, l.SettlementPrice, l.Refi.MaxLTVBps) {
		// The local safety bound is checked before the venue is ever invoked.
		e.emit(events.RefinanceAttempt{ID: l.ID, Caller: caller, Success: false})
		return false, nil
	}
	port, ok := e.venues[l.Refi.Venue]
	if !ok {
		return false, fmt.Errorf("%w: %q", errNoVenue, l.Refi.Venue)
	}
	success := callVenue(port, RefinanceRequest{
		Borrower:         l.Borrower,
		Lender:           l.Lender,
		CollateralAsset:  l.CollateralAsset,
		DebtAsset:        l.DebtAsset,
		CollateralAmount: new(big.Int).Set(l.CollateralAmount),
		RepaymentAmount:  new(big.Int).Set(l.RepaymentAmount),
		CollateralHolder: ledger.VaultAddress(l.ID),
		AdapterPayload:   append([]byte(nil), l.Refi.AdapterPayload...),
	})
	e.emit(events.RefinanceAttempt{ID: l.ID, Caller: caller, Success: success})
	if !success {
		return false, nil
	}
	l.Status = LoanRefinanced
	if err := e.storeLoan(l); err != nil {
		return false, err
	}
	e.emit(events.LoanRefinanced{
		ID:              l.ID,
		Venue:           l.Refi.Venue,
		SettlementPrice: new(big.Int).Set(l.SettlementPrice),
	})
	return true, nil
}

// callVenue downgrades a venue panic to an ordinary failed attempt. The port
// contract promises no partial mutation on failure, so a revert can never
// advance or corrupt loan state.
func callVenue(port RefinancePort, req RefinanceRequest) (success bool) {
	defer func() {
		if recover() != nil {
			success = false
		}
	}()
	return port.AttemptRefinance(req)
}

// Settle drives the Expired -> SettledNormally transition: it computes the
// collateral split from the frozen settlement price and stores both amounts.
// While the loan is refinance-eligible and inside the grace window, only the
// borrower may force the transition early; anyone may settle once the window
// has elapsed. A second call after completion fails loudly.
func (e *Engine) Settle(id [32]byte, caller [20]byte) error {
	unlock := e.lockLoan(id)
	defer unlock()
	l, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	if l.Status == LoanActive {
		if err := e.expireLocked(l); err != nil {
			return err
		}
	}
	if l.Status.Terminal() {
		return fmt.Errorf("%w: status %s", ErrAlreadyFinalized, l.Status)
	}
	if l.RefiEligible && e.now() <= l.RefiDeadline() && caller != l.Borrower {
		return fmt.Errorf("%w: refinance grace window open until %d", ErrNotYetPermitted, l.RefiDeadline())
	}
	lenderAmt, borrowerAmt := splitCollateral(
		l.CollateralAmount, l.RepaymentAmount, l.CallStrike, l.SettlementPrice)
	l.CollateralForLender = lenderAmt
	l.CollateralForBorrower = borrowerAmt
	l.Status = LoanSettled
	if err := e.storeLoan(l); err != nil {
		return err
	}
	e.emit(events.LoanSettled{
		ID:                    l.ID,
		Region:                settlementRegion(l.CollateralAmount, l.RepaymentAmount, l.CallStrike, l.SettlementPrice),
		SettlementPrice:       new(big.Int).Set(l.SettlementPrice),
		CollateralForLender:   new(big.Int).Set(lenderAmt),
		CollateralForBorrower: new(big.Int).Set(borrowerAmt),
	})
	return nil
}

// ClaimBorrower pays out the borrower's settlement entitlement exactly once.
// The claimed flag is persisted before the transfer so a reentrant call
// cannot double-spend.
func (e *Engine) ClaimBorrower(id [32]byte, caller [20]byte) (*big.Int, error) {
	unlock := e.lockLoan(id)
	defer unlock()
	l, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	if err := e.claimable(l); err != nil {
		return nil, err
	}
	if caller != l.Borrower {
		return nil, fmt.Errorf("%w: borrower claim", ErrUnauthorized)
	}
	if l.BorrowerClaimed {
		return nil, fmt.Errorf("%w: borrower", ErrAlreadyClaimed)
	}
	l.BorrowerClaimed = true
	if err := e.storeLoan(l); err != nil {
		return nil, err
	}
	amount := cloneBigIntOrZero(l.CollateralForBorrower)
	if err := e.payout(l, l.Borrower, amount); err != nil {
		return nil, err
	}
	e.emit(events.LoanClaimed{
		ID:      l.ID,
		Party:   "borrower",
		Account: l.Borrower,
		Asset:   l.CollateralAsset,
		Amount:  new(big.Int).Set(amount),
	})
	return amount, nil
}

// ClaimLender pays out the lender's settlement entitlement exactly once.
func (e *Engine) ClaimLender(id [32]byte, caller [20]byte) (*big.Int, error) {
	unlock := e.lockLoan(id)
	defer unlock()
	l, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	if err := e.claimable(l); err != nil {
		return nil, err
	}
	if caller != l.Lender {
		return nil, fmt.Errorf("%w: lender claim", ErrUnauthorized)
	}
	if l.LenderClaimed {
		return nil, fmt.Errorf("%w: lender", ErrAlreadyClaimed)
	}
	l.LenderClaimed = true
	if err := e.storeLoan(l); err != nil {
		return nil, err
	}
	amount := cloneBigIntOrZero(l.CollateralForLender)
	if err := e.payout(l, l.Lender, amount); err != nil {
		return nil, err
	}
	e.emit(events.LoanClaimed{
		ID:      l.ID,
		Party:   "lender",
		Account: l.Lender,
		Asset:   l.CollateralAsset,
		Amount:  new(big.Int).Set(amount),
	})
	return amount, nil
}

func (e *Engine) claimable(l *Loan) error {
	switch l.Status {
	case LoanSettled:
		return nil
	case LoanRefinanced:
		return fmt.Errorf("%w: refinanced loans have no claims", ErrAlreadyFinalized)
	default:
		return fmt.Errorf("%w: loan not yet settled", ErrNotYetPermitted)
	}
}

func (e *Engine) payout(l *Loan, to [20]byte, amount *big.Int) error {
	if e.book == nil {
		return errNilLedger
	}
	if amount.Sign() == 0 {
		return nil
	}
	return e.book.Transfer(ledger.VaultAddress(l.ID), to, l.CollateralAsset, amount)
}

func cloneBigIntOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
