package quote

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"strikelend/crypto"
	"strikelend/native/loan"
)

// QuoteDomainV1 is the domain separator mixed into every quote digest so a
// signature can never be replayed against another strikelend deployment or
// message family.
const QuoteDomainV1 = "STRIKELEND_QUOTE_V1"

// Quote captures the full set of loan terms a lender commits to when signing.
// The borrower is bound at fill time, not in the quote, so a lender can leave
// a quote open to any taker; replay protection comes from the per-lender
// nonce.
type Quote struct {
	Lender           [20]byte
	CollateralAsset  string
	DebtAsset        string
	CollateralAmount *big.Int
	Principal        *big.Int
	RepaymentAmount  *big.Int
	Expiry           int64
	CallStrike       *big.Int
	OracleName       string
	Refi             loan.RefiConfig
	Nonce            uint64
	Deadline         int64
	FeeBps           uint32
}

// Clone returns a deep copy of the quote.
func (q *Quote) Clone() *Quote {
	if q == nil {
		return nil
	}
	clone := *q
	clone.CollateralAmount = cloneBigInt(q.CollateralAmount)
	clone.Principal = cloneBigInt(q.Principal)
	clone.RepaymentAmount = cloneBigInt(q.RepaymentAmount)
	clone.CallStrike = cloneBigInt(q.CallStrike)
	clone.Refi.AdapterPayload = append([]byte(nil), q.Refi.AdapterPayload...)
	return &clone
}

// CanonicalMessage renders the canonical message covered by the lender's
// signature. Every field that shapes the resulting loan is included.
func (q *Quote) CanonicalMessage() (string, error) {
	if q == nil {
		return "", fmt.Errorf("quote not initialised")
	}
	collateralAsset := strings.ToUpper(strings.TrimSpace(q.CollateralAsset))
	debtAsset := strings.ToUpper(strings.TrimSpace(q.DebtAsset))
	if collateralAsset == "" || debtAsset == "" {
		return "", fmt.Errorf("quote: asset pair required")
	}
	if q.CollateralAmount == nil || q.Principal == nil || q.RepaymentAmount == nil || q.CallStrike == nil {
		return "", fmt.Errorf("quote: amounts required")
	}
	oracle := strings.ToLower(strings.TrimSpace(q.OracleName))
	if oracle == "" {
		return "", fmt.Errorf("quote: oracle reference required")
	}
	builder := strings.Builder{}
	builder.WriteString(QuoteDomainV1)
	builder.WriteString("|lender=")
	builder.WriteString(crypto.FromRaw(q.Lender).String())
	builder.WriteString("|pair=")
	builder.WriteString(collateralAsset)
	builder.WriteString("/")
	builder.WriteString(debtAsset)
	builder.WriteString("|collateral=")
	builder.WriteString(q.CollateralAmount.String())
	builder.WriteString("|principal=")
	builder.WriteString(q.Principal.String())
	builder.WriteString("|repayment=")
	builder.WriteString(q.RepaymentAmount.String())
	builder.WriteString("|expiry=")
	builder.WriteString(fmt.Sprintf("%d", q.Expiry))
	builder.WriteString("|strike=")
	builder.WriteString(q.CallStrike.String())
	builder.WriteString("|oracle=")
	builder.WriteString(oracle)
	builder.WriteString("|refi=")
	if q.Refi.Enabled {
		builder.WriteString(fmt.Sprintf("%s:%d:%d",
			strings.ToLower(strings.TrimSpace(q.Refi.Venue)), q.Refi.GracePeriod, q.Refi.MaxLTVBps))
	} else {
		builder.WriteString("off")
	}
	builder.WriteString("|nonce=")
	builder.WriteString(fmt.Sprintf("%d", q.Nonce))
	builder.WriteString("|deadline=")
	builder.WriteString(fmt.Sprintf("%d", q.Deadline))
	builder.WriteString("|feeBps=")
	builder.WriteString(fmt.Sprintf("%d", q.FeeBps))
	return builder.String(), nil
}

// Hash computes the keccak256 digest of the canonical message.
func (q *Quote) Hash() ([]byte, error) {
	message, err := q.CanonicalMessage()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256([]byte(message)), nil
}

// Sign produces the lender's recoverable signature over the quote digest.
func (q *Quote) Sign(key *crypto.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("quote: signing key required")
	}
	hash, err := q.Hash()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Sign(hash, key.PrivateKey)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
