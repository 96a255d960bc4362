package loan

import "errors"

// The engine surfaces every failure as one of a small set of sentinel kinds.
// Callers match with errors.Is; wrapped messages carry the specifics.
var (
	// ErrLoanNotFound reports an unknown loan identifier.
	ErrLoanNotFound = errors.New("loan engine: loan not found")

	// ErrNotYetPermitted covers temporal preconditions: settling before
	// expiry, non-borrower settlement inside the grace window, refinance
	// outside the grace window. Safe to retry once the window moves.
	ErrNotYetPermitted = errors.New("loan engine: operation not permitted yet")

	// ErrAlreadyFinalized reports an engine transition attempted on a
	// terminal loan. The record is untouched.
	ErrAlreadyFinalized = errors.New("loan engine: loan already finalized")

	// ErrOracleUnavailable means the price read came back invalid. No state
	// was mutated and the call is safe to retry.
	ErrOracleUnavailable = errors.New("loan engine: oracle price unavailable")

	// ErrIneligible reports a refinance attempt on a loan whose frozen
	// settlement region never permitted one, or with refinancing disabled.
	ErrIneligible = errors.New("loan engine: loan not eligible for refinance")

	// ErrAlreadyClaimed reports a second claim by the same party.
	ErrAlreadyClaimed = errors.New("loan engine: entitlement already claimed")

	// ErrUnauthorized reports a caller identity mismatch.
	ErrUnauthorized = errors.New("loan engine: unauthorized caller")

	errNilState  = errors.New("loan engine: state not configured")
	errNilLedger = errors.New("loan engine: ledger not configured")
	errNoOracle  = errors.New("loan engine: oracle not registered")
	errNoVenue   = errors.New("loan engine: refinance venue not registered")
)
