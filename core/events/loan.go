package events

import (
	"encoding/hex"
	"math/big"

	"strikelend/core/types"
	"strikelend/crypto"
)

const (
	TypeLoanExpired      = "loan.expired"
	TypeRefinanceAttempt = "loan.refinance_attempt"
	TypeLoanRefinanced   = "loan.refinanced"
	TypeLoanSettled      = "loan.settled"
	TypeLoanClaimed      = "loan.claimed"
)

// LoanExpired is emitted when the expiry transition fixes the settlement
// price and the loan leaves the active state.
type LoanExpired struct {
	ID              [32]byte
	SettlementPrice *big.Int
	RefiEligible    bool
	RefiDeadline    int64
}

func (LoanExpired) EventType() string { return TypeLoanExpired }

func (e LoanExpired) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanExpired,
		Attributes: map[string]string{
			"id":           hex.EncodeToString(e.ID[:]),
			"price":        formatAmount(e.SettlementPrice),
			"refiEligible": boolToString(e.RefiEligible),
			"refiDeadline": intToString(e.RefiDeadline),
		},
	}
}

// RefinanceAttempt records the boolean outcome of a single refinance attempt
// against the external venue.
type RefinanceAttempt struct {
	ID      [32]byte
	Caller  [20]byte
	Success bool
}

func (RefinanceAttempt) EventType() string { return TypeRefinanceAttempt }

func (e RefinanceAttempt) Event() *types.Event {
	return &types.Event{
		Type: TypeRefinanceAttempt,
		Attributes: map[string]string{
			"id":      hex.EncodeToString(e.ID[:]),
			"caller":  crypto.FromRaw(e.Caller).String(),
			"success": boolToString(e.Success),
		},
	}
}

// LoanRefinanced is emitted when a refinance attempt succeeds and the loan
// reaches its refinanced terminal state.
type LoanRefinanced struct {
	ID              [32]byte
	Venue           string
	SettlementPrice *big.Int
}

func (LoanRefinanced) EventType() string { return TypeLoanRefinanced }

func (e LoanRefinanced) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanRefinanced,
		Attributes: map[string]string{
			"id":    hex.EncodeToString(e.ID[:]),
			"venue": e.Venue,
			"price": formatAmount(e.SettlementPrice),
		},
	}
}

// LoanSettled is emitted when normal settlement splits the collateral.
// Region is one of "downside", "middle", or "upside".
type LoanSettled struct {
	ID                    [32]byte
	Region                string
	SettlementPrice       *big.Int
	CollateralForLender   *big.Int
	CollateralForBorrower *big.Int
}

func (LoanSettled) EventType() string { return TypeLoanSettled }

func (e LoanSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanSettled,
		Attributes: map[string]string{
			"id":                    hex.EncodeToString(e.ID[:]),
			"region":                e.Region,
			"price":                 formatAmount(e.SettlementPrice),
			"collateralForLender":   formatAmount(e.CollateralForLender),
			"collateralForBorrower": formatAmount(e.CollateralForBorrower),
		},
	}
}

// LoanClaimed is emitted once per counterparty when their settlement
// entitlement has been paid out.
type LoanClaimed struct {
	ID      [32]byte
	Party   string
	Account [20]byte
	Asset   string
	Amount  *big.Int
}

func (LoanClaimed) EventType() string { return TypeLoanClaimed }

func (e LoanClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanClaimed,
		Attributes: map[string]string{
			"id":      hex.EncodeToString(e.ID[:]),
			"party":   e.Party,
			"account": crypto.FromRaw(e.Account).String(),
			"asset":   e.Asset,
			"amount":  formatAmount(e.Amount),
		},
	}
}
