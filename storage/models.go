package storage

import (
	"time"

	"gorm.io/gorm"
)

// LoanRecord is the persisted form of a loan. Quantities are stored as
// decimal strings so arbitrary-precision amounts survive the round trip.
type LoanRecord struct {
	ID       string `gorm:"primaryKey;size:64"`
	Borrower string `gorm:"size:40;index"`
	Lender   string `gorm:"size:40;index"`

	CollateralAsset  string `gorm:"size:16"`
	DebtAsset        string `gorm:"size:16"`
	CollateralAmount string `gorm:"size:80"`
	Principal        string `gorm:"size:80"`
	RepaymentAmount  string `gorm:"size:80"`
	Expiry           int64  `gorm:"index"`
	CallStrike       string `gorm:"size:80"`

	OracleName   string `gorm:"size:64"`
	OracleConfig []byte

	RefiEnabled        bool
	RefiVenue          string `gorm:"size:64"`
	RefiGracePeriod    int64
	RefiMaxLTVBps      uint64
	RefiAdapterPayload []byte

	Status          uint8  `gorm:"index"`
	SettlementPrice string `gorm:"size:80"`
	RefiEligible    bool

	CollateralForBorrower string `gorm:"size:80"`
	CollateralForLender   string `gorm:"size:80"`
	BorrowerClaimed       bool
	LenderClaimed         bool

	CreatedUnix int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AccountRecord holds the nonce for a principal. Balances live in
// BalanceRecord rows keyed by asset.
type AccountRecord struct {
	Address   string `gorm:"primaryKey;size:40"`
	Nonce     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BalanceRecord holds one asset balance for a principal.
type BalanceRecord struct {
	Address   string `gorm:"primaryKey;size:40"`
	Asset     string `gorm:"primaryKey;size:16"`
	Amount    string `gorm:"size:80"`
	UpdatedAt time.Time
}

// ConsumedNonce marks a lender quote nonce as spent. Rows are never deleted.
type ConsumedNonce struct {
	Lender    string `gorm:"primaryKey;size:40"`
	Nonce     uint64 `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt time.Time
}

// EventRecord is the append-only audit trail of engine events.
type EventRecord struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Type       string `gorm:"size:64;index"`
	LoanID     string `gorm:"size:64;index"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// IdempotencyKey stores request idempotency metadata for the gateway.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the node.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&LoanRecord{},
		&AccountRecord{},
		&BalanceRecord{},
		&ConsumedNonce{},
		&EventRecord{},
		&IdempotencyKey{},
	)
}
