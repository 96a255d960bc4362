package loan

import "math/big"

// OraclePort is the capability the engine consumes to obtain a single price
// at or near a timestamp. Implementations never fail loudly: bad data of any
// kind (missing feed, non-positive answer, stale or out-of-order rounds) is
// signalled with valid=false and the engine refuses to progress past expiry
// until a subsequent read succeeds.
type OraclePort interface {
	PriceAt(config []byte, at int64) (price *big.Int, valid bool)
}

// OracleFunc adapts a plain function to the OraclePort interface.
type OracleFunc func(config []byte, at int64) (*big.Int, bool)

// PriceAt implements OraclePort.
func (f OracleFunc) PriceAt(config []byte, at int64) (*big.Int, bool) {
	return f(config, at)
}
