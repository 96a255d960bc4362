package loan

import "math/big"

var basisPoints = big.NewInt(10_000)

// splitCollateral classifies the settlement outcome into one of three payoff
// regions and returns the collateral quantities owed to the lender and the
// borrower. price must be positive; the oracle check upstream guarantees a
// zero price never reaches this arithmetic. The two amounts always sum to
// exactly the collateral amount.
//
// Rounding favours the lender: the lender's middle-region quantity rounds up
// and the borrower's upside-region quantity rounds down, so the lender is
// never shorted by integer truncation.
func splitCollateral(collateral, repayment, strike, price *big.Int) (lender, borrower *big.Int) {
	value := new(big.Int).Mul(collateral, price)
	capValue := new(big.Int).Mul(collateral, strike)

	switch {
	case value.Cmp(repayment) < 0:
		// Downside: the whole escrow goes to the lender.
		return new(big.Int).Set(collateral), big.NewInt(0)
	case value.Cmp(capValue) <= 0:
		// Middle: the lender takes the quantity worth the repayment amount
		// at the settlement price, rounded up.
		lender = ceilDiv(repayment, price)
		if lender.Cmp(collateral) > 0 {
			lender = new(big.Int).Set(collateral)
		}
		return lender, new(big.Int).Sub(collateral, lender)
	default:
		// Upside: the borrower's entitlement is capped at the strike value
		// minus the repayment amount, rounded down.
		entitlement := new(big.Int).Sub(capValue, repayment)
		if entitlement.Sign() < 0 {
			entitlement = big.NewInt(0)
		}
		borrower = new(big.Int).Quo(entitlement, price)
		if borrower.Cmp(collateral) > 0 {
			borrower = new(big.Int).Set(collateral)
		}
		return new(big.Int).Sub(collateral, borrower), borrower
	}
}

// settlementRegion names the payoff region the frozen price landed in. The
// strings are stable labels used by events and metrics.
func settlementRegion(collateral, repayment, strike, price *big.Int) string {
	value := new(big.Int).Mul(collateral, price)
	if value.Cmp(repayment) < 0 {
		return "downside"
	}
	capValue := new(big.Int).Mul(collateral, strike)
	if value.Cmp(capValue) <= 0 {
		return "middle"
	}
	return "upside"
}

// refiEligible reports whether the frozen settlement price lands the loan in
// the middle region, where the collateral's settlement value covers the
// repayment amount without exceeding the strike-capped value.
func refiEligible(collateral, repayment, strike, price *big.Int) bool {
	value := new(big.Int).Mul(collateral, price)
	if value.Cmp(repayment) < 0 {
		return false
	}
	capValue := new(big.Int).Mul(collateral, strike)
	return value.Cmp(capValue) <= 0
}

// withinMaxLTV applies the local safety bound against the frozen settlement
// price: the repayment amount, in basis points of the collateral's settlement
// value, must not exceed maxLTVBps. A zero bound disables the check.
func withinMaxLTV(collateral, repayment, price *big.Int, maxLTVBps uint64) bool {
	if maxLTVBps == 0 {
		return true
	}
	lhs := new(big.Int).Mul(repayment, basisPoints)
	rhs := new(big.Int).Mul(collateral, price)
	rhs.Mul(rhs, new(big.Int).SetUint64(maxLTVBps))
	return lhs.Cmp(rhs) <= 0
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
