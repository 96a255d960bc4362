package events

import (
	"encoding/hex"
	"math/big"

	"strikelend/core/types"
	"strikelend/crypto"
)

const (
	TypeQuoteFilled = "quote.filled"
)

// QuoteFilled is emitted when a signed lender quote is accepted and a new
// loan record is created.
type QuoteFilled struct {
	ID         [32]byte
	Lender     [20]byte
	Borrower   [20]byte
	Nonce      uint64
	Principal  *big.Int
	Fee        *big.Int
	Collateral *big.Int
	Expiry     int64
}

func (QuoteFilled) EventType() string { return TypeQuoteFilled }

func (e QuoteFilled) Event() *types.Event {
	return &types.Event{
		Type: TypeQuoteFilled,
		Attributes: map[string]string{
			"id":         hex.EncodeToString(e.ID[:]),
			"lender":     crypto.FromRaw(e.Lender).String(),
			"borrower":   crypto.FromRaw(e.Borrower).String(),
			"nonce":      uintToString(e.Nonce),
			"principal":  formatAmount(e.Principal),
			"fee":        formatAmount(e.Fee),
			"collateral": formatAmount(e.Collateral),
			"expiry":     intToString(e.Expiry),
		},
	}
}
