package loan

import "math/big"

// RefinanceRequest carries everything a venue needs to swap the loan's debt
// for a new position backed by the same collateral. CollateralHolder is the
// escrow vault currently holding the collateral; on success the venue must
// have moved the full repayment amount of debt asset to the lender, taken
// custody of the collateral, and booked the leveraged position to the
// borrower.
type RefinanceRequest struct {
	Borrower         [20]byte
	Lender           [20]byte
	CollateralAsset  string
	DebtAsset        string
	CollateralAmount *big.Int
	RepaymentAmount  *big.Int
	CollateralHolder [20]byte
	AdapterPayload   []byte
}

// RefinancePort is the capability the engine consumes to attempt an external
// debt-for-collateral swap. A false return means nothing changed on the
// venue side; the engine treats panics the same way, so a reverting venue
// can never brick a loan or advance its state.
type RefinancePort interface {
	AttemptRefinance(req RefinanceRequest) bool
}

// RefinanceFunc adapts a plain function to the RefinancePort interface.
type RefinanceFunc func(req RefinanceRequest) bool

// AttemptRefinance implements RefinancePort.
func (f RefinanceFunc) AttemptRefinance(req RefinanceRequest) bool {
	return f(req)
}
