package market

import (
	"encoding/hex"
	"log/slog"

	"strikelend/native/loan"
)

// Venue adapts the money market to the settlement engine's refinance
// capability. A successful attempt pays the lender the full repayment from
// market liquidity and books a leveraged position for the borrower, with
// the loan's collateral as backing. Any shortfall reports false and leaves
// both the market and the ledger untouched.
type Venue struct {
	market *Market
	log    *slog.Logger
}

// NewVenue wraps the market as a refinance venue. A nil logger disables
// adapter logging.
func NewVenue(m *Market, log *slog.Logger) *Venue {
	return &Venue{market: m, log: log}
}

// AttemptRefinance implements loan.RefinancePort. The adapter payload is the
// oracle routing key for the loan's trading pair.
func (v *Venue) AttemptRefinance(req loan.RefinanceRequest) bool {
	if v == nil || v.market == nil {
		return false
	}
	pos, err := v.market.openPosition(
		req.Borrower, req.CollateralHolder, req.Lender,
		req.CollateralAsset, req.DebtAsset,
		req.CollateralAmount, req.RepaymentAmount,
		req.AdapterPayload,
	)
	if err != nil {
		if v.log != nil {
			v.log.Info("refinance declined",
				"collateral_asset", req.CollateralAsset,
				"debt_asset", req.DebtAsset,
				"repayment", req.RepaymentAmount.String(),
				"reason", err)
		}
		return false
	}
	if v.log != nil {
		v.log.Info("refinance funded",
			"position", hex.EncodeToString(pos.ID[:]),
			"debt", pos.Debt.String())
	}
	return true
}
