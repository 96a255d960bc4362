package loan

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"strikelend/core/events"
	"strikelend/core/types"
	"strikelend/ledger"
)

type mockState struct {
	loans    map[[32]byte]*Loan
	accounts map[[20]byte]*types.Account
}

func newMockState() *mockState {
	return &mockState{
		loans:    make(map[[32]byte]*Loan),
		accounts: make(map[[20]byte]*types.Account),
	}
}

func (m *mockState) LoanGet(id [32]byte) (*Loan, bool) {
	l, ok := m.loans[id]
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

func (m *mockState) LoanPut(l *Loan) error {
	m.loans[l.ID] = l.Clone()
	return nil
}

func (m *mockState) GetAccount(addr [20]byte) (*types.Account, error) {
	acc, ok := m.accounts[addr]
	if !ok {
		return types.NewAccount(), nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr [20]byte, acc *types.Account) error {
	m.accounts[addr] = acc.Clone()
	return nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) countType(eventType string) int {
	count := 0
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			count++
		}
	}
	return count
}

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

const testExpiry = int64(1_700_000_000)

type engineFixture struct {
	engine  *Engine
	state   *mockState
	emitter *recordingEmitter
	now     int64
	price   *big.Int
	valid   bool

	venueCalls  int
	venueResult bool
	venuePanics bool

	borrower [20]byte
	lender   [20]byte
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		state:    newMockState(),
		emitter:  &recordingEmitter{},
		now:      testExpiry - 1000,
		price:    big.NewInt(100),
		valid:    true,
		borrower: testAddress(0x01),
		lender:   testAddress(0x02),
	}
	f.engine = NewEngine()
	f.engine.SetState(f.state)
	f.engine.SetLedger(ledger.NewBook(f.state))
	f.engine.SetEmitter(f.emitter)
	f.engine.SetNowFunc(func() int64 { return f.now })
	f.engine.RegisterOracle("feed", OracleFunc(func(config []byte, at int64) (*big.Int, bool) {
		if f.price == nil {
			return nil, f.valid
		}
		return new(big.Int).Set(f.price), f.valid
	}))
	f.engine.RegisterVenue("market", RefinanceFunc(func(req RefinanceRequest) bool {
		f.venueCalls++
		if f.venuePanics {
			panic("venue reverted")
		}
		return f.venueResult
	}))
	return f
}

func (f *engineFixture) newLoan(t *testing.T) *Loan {
	t.Helper()
	l, err := f.engine.Create(&Loan{
		ID:               LoanID(f.lender, f.borrower, 1),
		Borrower:         f.borrower,
		Lender:           f.lender,
		CollateralAsset:  "VOL",
		DebtAsset:        "USD",
		CollateralAmount: big.NewInt(500_000_000),
		Principal:        big.NewInt(4_000_000),
		RepaymentAmount:  big.NewInt(5_000_000),
		Expiry:           testExpiry,
		CallStrike:       big.NewInt(200),
		OracleName:       "feed",
		Refi: RefiConfig{
			Enabled:     true,
			Venue:       "market",
			GracePeriod: 172_800, // two days
			MaxLTVBps:   9000,
		},
	})
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	// Fund the escrow vault with the collateral the origination layer would
	// have moved there.
	book := ledger.NewBook(f.state)
	if err := book.Credit(ledger.VaultAddress(l.ID), "VOL", l.CollateralAmount); err != nil {
		t.Fatalf("fund vault: %v", err)
	}
	return l
}

func (f *engineFixture) mustExpire(t *testing.T, id [32]byte) {
	t.Helper()
	f.now = testExpiry + 1
	if err := f.engine.Expire(id); err != nil {
		t.Fatalf("expire: %v", err)
	}
}

func TestCreateRejectsDuplicateAndPastExpiry(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	if _, err := f.engine.Create(l); err == nil {
		t.Fatalf("expected duplicate creation to fail")
	}
	stale := l.Clone()
	stale.ID = LoanID(f.lender, f.borrower, 2)
	stale.Expiry = f.now - 1
	stale.Status = LoanActive
	stale.SettlementPrice = nil
	if _, err := f.engine.Create(stale); err == nil {
		t.Fatalf("expected past expiry to be rejected")
	}
}

func TestExpireBeforeMaturity(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	if err := f.engine.Expire(l.ID); !errors.Is(err, ErrNotYetPermitted) {
		t.Fatalf("expected ErrNotYetPermitted, got %v", err)
	}
	got, _ := f.engine.Get(l.ID)
	if got.Status != LoanActive {
		t.Fatalf("expected loan to remain active, got %s", got.Status)
	}
}

func TestExpireFixesPriceOnce(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	f.mustExpire(t, l.ID)

	got, _ := f.engine.Get(l.ID)
	if got.Status != LoanExpired {
		t.Fatalf("expected expired status, got %s", got.Status)
	}
	if got.SettlementPrice.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected settlement price 100, got %s", got.SettlementPrice)
	}
	if !got.RefiEligible {
		t.Fatalf("expected refinance eligibility in the middle region")
	}

	// A second call with a different oracle answer is a no-op; the frozen
	// price never changes.
	f.price = big.NewInt(999)
	if err := f.engine.Expire(l.ID); err != nil {
		t.Fatalf("second expire: %v", err)
	}
	got, _ = f.engine.Get(l.ID)
	if got.SettlementPrice.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("settlement price changed on replay: %s", got.SettlementPrice)
	}
	if f.emitter.countType(events.TypeLoanExpired) != 1 {
		t.Fatalf("expected exactly one expiry event")
	}
}

func TestExpireRetriesAfterOracleOutage(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	f.now = testExpiry + 1
	f.valid = false
	if err := f.engine.Expire(l.ID); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
	got, _ := f.engine.Get(l.ID)
	if got.Status != LoanActive || got.SettlementPrice != nil {
		t.Fatalf("failed oracle read must not mutate state")
	}
	f.valid = true
	if err := f.engine.Expire(l.ID); err != nil {
		t.Fatalf("retry after outage: %v", err)
	}
	got, _ = f.engine.Get(l.ID)
	if got.Status != LoanExpired {
		t.Fatalf("expected expired after retry, got %s", got.Status)
	}
}

func TestRefinanceFailureNeverFinalizes(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	f.mustExpire(t, l.ID)

	f.venueResult = false
	keeper := testAddress(0x09)
	for i := 0; i < 5; i++ {
		success, err := f.engine.AttemptRefinance(l.ID, keeper)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if success {
			t.Fatalf("attempt %d: expected failure", i)
		}
		got, _ := f.engine.Get(l.ID)
		if got.Status != LoanExpired {
			t.Fatalf("attempt %d: status advanced to %s", i, got.Status)
		}
	}
	if f.emitter.countType(events.TypeRefinanceAttempt) != 5 {
		t.Fatalf("expected five attempt events")
	}

	// While the grace window is open only the borrower may settle.
	if err := f.engine.Settle(l.ID, f.lender); !errors.Is(err, ErrNotYetPermitted) {
		t.Fatalf("expected lender settlement to wait out the window, got %v", err)
	}

	// After the window anyone may settle, with the same frozen price.
	f.now = testExpiry + l.Refi.GracePeriod + 1
	if err := f.engine.Settle(l.ID, keeper); err != nil {
		t.Fatalf("keeper settlement after grace: %v", err)
	}
	got, _ := f.engine.Get(l.ID)
	if got.CollateralForLender.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("expected lender split 50000, got %s", got.CollateralForLender)
	}
	if got.CollateralForBorrower.Cmp(big.NewInt(499_950_000)) != 0 {
		t.Fatalf("expected borrower split 499950000, got %s", got.CollateralForBorrower)
	}
}

func TestRefinancePanicIsDowngraded(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	f.mustExpire(t, l.ID)

	f.venuePanics = true
	success, err := f.engine.AttemptRefinance(l.ID, f.borrower)
	if err != nil {
		t.Fatalf("panicking venue must not surface an error: %v", err)
	}
	if success {
		t.Fatalf("expected failed attempt")
	}
	got, _ := f.engine.Get(l.ID)
	if got.Status != LoanExpired {
		t.Fatalf("panicking venue advanced status to %s", got.Status)
	}
}

func TestRefinanceSuccessFinalizes(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	f.mustExpire(t, l.ID)

	f.venueResult = true
	success, err := f.engine.AttemptRefinance(l.ID, f.borrower)
	if err != nil || !success {
		t.Fatalf("expected successful refinance, got %v/%v", success, err)
	}
	got, _ := f.engine.Get(l.ID)
	if got.Status != LoanRefinanced {
		t.Fatalf("expected refinanced status, got %s", got.Status)
	}

	if _, err := f.engine.AttemptRefinance(l.ID, f.borrower); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized on replay, got %v", err)
	}
	if err := f.engine.Settle(l.ID, f.borrower); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected settlement of refinanced loan to fail, got %v", err)
	}
	if _, err := f.engine.ClaimBorrower(l.ID, f.borrower); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected claim on refinanced loan to fail, got %v", err)
	}
}

func TestRefinanceLocalLTVCheckShortCircuits(t *testing.T) {
	f := newEngineFixture(t)
	l, err := f.engine.Create(&Loan{
		ID:               LoanID(f.lender, f.borrower, 7),
		Borrower:         f.borrower,
		Lender:           f.lender,
		CollateralAsset:  "VOL",
		DebtAsset:        "USD",
		CollateralAmount: big.NewInt(1_000),
		Principal:        big.NewInt(40_000),
		RepaymentAmount:  big.NewInt(99_000),
		Expiry:           testExpiry,
		CallStrike:       big.NewInt(200),
		OracleName:       "feed",
		Refi: RefiConfig{
			Enabled:     true,
			Venue:       "market",
			GracePeriod: 3600,
			// Value at S_T=100 is 100_000; a 5000 bps bound caps safe debt
			// at 50_000, well under the repayment amount.
			MaxLTVBps: 5000,
		},
	})
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	f.mustExpire(t, l.ID)

	success, err := f.engine.AttemptRefinance(l.ID, f.borrower)
	if err != nil || success {
		t.Fatalf("expected cheap failure, got %v/%v", success, err)
	}
	if f.venueCalls != 0 {
		t.Fatalf("venue must not be invoked when the local bound fails")
	}
	if f.emitter.countType(events.TypeRefinanceAttempt) != 1 {
		t.Fatalf("expected a failed attempt event")
	}
}

func TestRefinanceOutsideGraceWindow(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	f.mustExpire(t, l.ID)

	f.now = testExpiry + l.Refi.GracePeriod + 1
	if _, err := f.engine.AttemptRefinance(l.ID, f.borrower); !errors.Is(err, ErrNotYetPermitted) {
		t.Fatalf("expected grace window rejection, got %v", err)
	}
}

func TestRefinanceIneligibleRegion(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	f.price = big.NewInt(300) // upside: above the strike cap
	f.mustExpire(t, l.ID)

	if _, err := f.engine.AttemptRefinance(l.ID, f.borrower); !errors.Is(err, ErrIneligible) {
		t.Fatalf("expected ErrIneligible, got %v", err)
	}
}

func TestBorrowerMaySettleEarlyDuringGrace(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	f.mustExpire(t, l.ID)

	if err := f.engine.Settle(l.ID, f.borrower); err != nil {
		t.Fatalf("borrower early settlement: %v", err)
	}
	got, _ := f.engine.Get(l.ID)
	if got.Status != LoanSettled {
		t.Fatalf("expected settled status, got %s", got.Status)
	}

	// The one-shot guard: settling again fails loudly without touching the
	// stored amounts.
	if err := f.engine.Settle(l.ID, f.borrower); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected second settlement to fail, got %v", err)
	}
	again, _ := f.engine.Get(l.ID)
	if again.CollateralForLender.Cmp(got.CollateralForLender) != 0 ||
		again.CollateralForBorrower.Cmp(got.CollateralForBorrower) != 0 {
		t.Fatalf("second settlement altered stored amounts")
	}
}

func TestSettleImplicitlyExpires(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	f.now = testExpiry + 1
	if err := f.engine.Settle(l.ID, f.borrower); err != nil {
		t.Fatalf("settlement with implicit expiry: %v", err)
	}
	got, _ := f.engine.Get(l.ID)
	if got.Status != LoanSettled {
		t.Fatalf("expected settled status, got %s", got.Status)
	}
	if got.SettlementPrice.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("implicit expiry did not fix the price")
	}
}

func TestClaimsAreOneShotAndGated(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	f.mustExpire(t, l.ID)
	if err := f.engine.Settle(l.ID, f.borrower); err != nil {
		t.Fatalf("settle: %v", err)
	}

	if _, err := f.engine.ClaimBorrower(l.ID, f.lender); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized claim rejection, got %v", err)
	}

	book := ledger.NewBook(f.state)
	amount, err := f.engine.ClaimBorrower(l.ID, f.borrower)
	if err != nil {
		t.Fatalf("borrower claim: %v", err)
	}
	if amount.Cmp(big.NewInt(499_950_000)) != 0 {
		t.Fatalf("expected borrower payout 499950000, got %s", amount)
	}
	balance, _ := book.Balance(f.borrower, "VOL")
	if balance.Cmp(big.NewInt(499_950_000)) != 0 {
		t.Fatalf("borrower balance not credited: %s", balance)
	}

	if _, err := f.engine.ClaimBorrower(l.ID, f.borrower); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected double claim to fail, got %v", err)
	}
	balance, _ = book.Balance(f.borrower, "VOL")
	if balance.Cmp(big.NewInt(499_950_000)) != 0 {
		t.Fatalf("double claim moved value: %s", balance)
	}

	if _, err := f.engine.ClaimLender(l.ID, f.lender); err != nil {
		t.Fatalf("lender claim: %v", err)
	}
	vaultBalance, _ := book.Balance(ledger.VaultAddress(l.ID), "VOL")
	if vaultBalance.Sign() != 0 {
		t.Fatalf("vault not emptied after both claims: %s", vaultBalance)
	}
	if f.emitter.countType(events.TypeLoanClaimed) != 2 {
		t.Fatalf("expected two claim events")
	}
}

func TestClaimBeforeSettlement(t *testing.T) {
	f := newEngineFixture(t)
	l := f.newLoan(t)
	f.mustExpire(t, l.ID)
	if _, err := f.engine.ClaimLender(l.ID, f.lender); !errors.Is(err, ErrNotYetPermitted) {
		t.Fatalf("expected claim before settlement to fail, got %v", err)
	}
}

func TestUnknownLoan(t *testing.T) {
	f := newEngineFixture(t)
	var id [32]byte
	id[0] = 0xFF
	if err := f.engine.Expire(id); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}
}
