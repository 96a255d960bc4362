package loan

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// LoanStatus enumerates the lifecycle states of a loan record. The status
// only moves forward; no transition is reversible.
type LoanStatus uint8

const (
	// LoanActive is the state between origination and a successful expiry
	// transition.
	LoanActive LoanStatus = iota
	// LoanExpired means the settlement price has been fixed and the loan is
	// waiting for refinance or normal settlement.
	LoanExpired
	// LoanRefinanced is terminal: the external venue repaid the lender and
	// took over the collateral.
	LoanRefinanced
	// LoanSettled is terminal: collateral was split between the parties and
	// awaits their claims.
	LoanSettled
)

// Valid reports whether the status value is within the supported range.
func (s LoanStatus) Valid() bool {
	switch s {
	case LoanActive, LoanExpired, LoanRefinanced, LoanSettled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status permits no further engine transitions.
func (s LoanStatus) Terminal() bool {
	return s == LoanRefinanced || s == LoanSettled
}

func (s LoanStatus) String() string {
	switch s {
	case LoanActive:
		return "active"
	case LoanExpired:
		return "expired"
	case LoanRefinanced:
		return "refinanced"
	case LoanSettled:
		return "settled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseStatus converts a status label back to its enum value.
func ParseStatus(label string) (LoanStatus, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "active":
		return LoanActive, nil
	case "expired":
		return LoanExpired, nil
	case "refinanced":
		return LoanRefinanced, nil
	case "settled":
		return LoanSettled, nil
	default:
		return 0, fmt.Errorf("loan: unknown status %q", label)
	}
}

// RefiConfig carries the optional refinance settings fixed at origination.
type RefiConfig struct {
	Enabled bool
	// Venue names the refinance capability registered with the engine.
	Venue string
	// GracePeriod is the number of seconds after expiry during which
	// refinance attempts remain legal.
	GracePeriod int64
	// MaxLTVBps bounds the repayment amount against the collateral value at
	// the frozen settlement price. Zero disables the local check.
	MaxLTVBps uint64
	// AdapterPayload is passed opaquely to the venue.
	AdapterPayload []byte
}

// Loan is the single mutable record per origination: immutable terms plus
// lifecycle state. Terms are fixed at creation and never mutated afterwards.
type Loan struct {
	ID       [32]byte
	Borrower [20]byte
	Lender   [20]byte

	CollateralAsset  string
	DebtAsset        string
	CollateralAmount *big.Int
	Principal        *big.Int
	RepaymentAmount  *big.Int
	Expiry           int64
	CallStrike       *big.Int

	OracleName   string
	OracleConfig []byte
	Refi         RefiConfig

	Status          LoanStatus
	SettlementPrice *big.Int
	RefiEligible    bool

	CollateralForBorrower *big.Int
	CollateralForLender   *big.Int
	BorrowerClaimed       bool
	LenderClaimed         bool

	CreatedAt int64
}

// LoanID derives the deterministic record identifier from the two principals
// and the lender's quote nonce.
func LoanID(lender, borrower [20]byte, nonce uint64) [32]byte {
	var nonceBytes [8]byte
	for i := 0; i < 8; i++ {
		nonceBytes[7-i] = byte(nonce >> (8 * i))
	}
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(lender[:], borrower[:], nonceBytes[:]))
	return id
}

// RefiDeadline returns the last instant at which refinance attempts are
// accepted.
func (l *Loan) RefiDeadline() int64 {
	if l == nil {
		return 0
	}
	return l.Expiry + l.Refi.GracePeriod
}

// Clone returns a deep copy of the loan so callers can safely mutate the copy
// without affecting the stored instance.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	clone.CollateralAmount = cloneBigInt(l.CollateralAmount)
	clone.Principal = cloneBigInt(l.Principal)
	clone.RepaymentAmount = cloneBigInt(l.RepaymentAmount)
	clone.CallStrike = cloneBigInt(l.CallStrike)
	clone.SettlementPrice = cloneBigInt(l.SettlementPrice)
	clone.CollateralForBorrower = cloneBigInt(l.CollateralForBorrower)
	clone.CollateralForLender = cloneBigInt(l.CollateralForLender)
	clone.OracleConfig = append([]byte(nil), l.OracleConfig...)
	clone.Refi.AdapterPayload = append([]byte(nil), l.Refi.AdapterPayload...)
	return &clone
}

// Sanitize validates and normalises a loan definition, returning a cloned
// instance with canonical asset casing. The original value is not mutated.
func Sanitize(l *Loan) (*Loan, error) {
	if l == nil {
		return nil, fmt.Errorf("loan: nil record")
	}
	clone := l.Clone()
	collateral, err := normalizeAsset(clone.CollateralAsset)
	if err != nil {
		return nil, fmt.Errorf("loan: collateral asset: %w", err)
	}
	debt, err := normalizeAsset(clone.DebtAsset)
	if err != nil {
		return nil, fmt.Errorf("loan: debt asset: %w", err)
	}
	if collateral == debt {
		return nil, fmt.Errorf("loan: collateral and debt asset must differ")
	}
	clone.CollateralAsset = collateral
	clone.DebtAsset = debt
	if clone.CollateralAmount == nil || clone.CollateralAmount.Sign() <= 0 {
		return nil, fmt.Errorf("loan: collateral amount must be positive")
	}
	if clone.RepaymentAmount == nil || clone.RepaymentAmount.Sign() <= 0 {
		return nil, fmt.Errorf("loan: repayment amount must be positive")
	}
	if clone.Principal == nil || clone.Principal.Sign() < 0 {
		return nil, fmt.Errorf("loan: principal must be non-negative")
	}
	if clone.CallStrike == nil || clone.CallStrike.Sign() <= 0 {
		return nil, fmt.Errorf("loan: call strike must be positive")
	}
	if clone.Refi.Enabled {
		if strings.TrimSpace(clone.Refi.Venue) == "" {
			return nil, fmt.Errorf("loan: refinance venue required when enabled")
		}
		if clone.Refi.GracePeriod < 0 {
			return nil, fmt.Errorf("loan: grace period must be non-negative")
		}
		if clone.Refi.MaxLTVBps > 10_000 {
			return nil, fmt.Errorf("loan: max LTV bps out of range: %d", clone.Refi.MaxLTVBps)
		}
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("loan: invalid status: %d", clone.Status)
	}
	return clone, nil
}

func normalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("empty asset symbol")
	}
	return trimmed, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
