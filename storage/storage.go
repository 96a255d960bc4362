// Package storage persists loans, accounts, consumed nonces and the event
// audit trail behind gorm. The same Store satisfies the state interfaces of
// the loan engine, the quote engine and the balance book, so a single
// database transaction boundary backs the whole node.
package storage

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"strikelend/core/types"
	"strikelend/native/loan"
)

// ErrDSNRequired is returned when the backing store DSN is missing.
var ErrDSNRequired = errors.New("storage: dsn must be configured")

// Store wraps the node persistence layer.
type Store struct {
	db *gorm.DB
}

// Open initialises the backing store. Driver is "sqlite" (the default) or
// "postgres"; the DSN is passed through to the driver unchanged.
func Open(driver, dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(trimmed)
	case "postgres":
		dialector = postgres.Open(trimmed)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeAddr(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func decodeAddr(s string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 20 {
		return addr, fmt.Errorf("storage: malformed address %q", s)
	}
	copy(addr[:], raw)
	return addr, nil
}

func encodeID(id [32]byte) string { return hex.EncodeToString(id[:]) }

func encodeAmount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func decodeAmount(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}

func loanToRecord(l *loan.Loan) *LoanRecord {
	return &LoanRecord{
		ID:                    encodeID(l.ID),
		Borrower:              encodeAddr(l.Borrower),
		Lender:                encodeAddr(l.Lender),
		CollateralAsset:       l.CollateralAsset,
		DebtAsset:             l.DebtAsset,
		CollateralAmount:      encodeAmount(l.CollateralAmount),
		Principal:             encodeAmount(l.Principal),
		RepaymentAmount:       encodeAmount(l.RepaymentAmount),
		Expiry:                l.Expiry,
		CallStrike:            encodeAmount(l.CallStrike),
		OracleName:            l.OracleName,
		OracleConfig:          append([]byte(nil), l.OracleConfig...),
		RefiEnabled:           l.Refi.Enabled,
		RefiVenue:             l.Refi.Venue,
		RefiGracePeriod:       l.Refi.GracePeriod,
		RefiMaxLTVBps:         l.Refi.MaxLTVBps,
		RefiAdapterPayload:    append([]byte(nil), l.Refi.AdapterPayload...),
		Status:                uint8(l.Status),
		SettlementPrice:       encodeAmount(l.SettlementPrice),
		RefiEligible:          l.RefiEligible,
		CollateralForBorrower: encodeAmount(l.CollateralForBorrower),
		CollateralForLender:   encodeAmount(l.CollateralForLender),
		BorrowerClaimed:       l.BorrowerClaimed,
		LenderClaimed:         l.LenderClaimed,
		CreatedUnix:           l.CreatedAt,
	}
}

func recordToLoan(r *LoanRecord) (*loan.Loan, error) {
	var id [32]byte
	raw, err := hex.DecodeString(r.ID)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("storage: malformed loan id %q", r.ID)
	}
	copy(id[:], raw)
	borrower, err := decodeAddr(r.Borrower)
	if err != nil {
		return nil, err
	}
	lender, err := decodeAddr(r.Lender)
	if err != nil {
		return nil, err
	}
	return &loan.Loan{
		ID:               id,
		Borrower:         borrower,
		Lender:           lender,
		CollateralAsset:  r.CollateralAsset,
		DebtAsset:        r.DebtAsset,
		CollateralAmount: decodeAmount(r.CollateralAmount),
		Principal:        decodeAmount(r.Principal),
		RepaymentAmount:  decodeAmount(r.RepaymentAmount),
		Expiry:           r.Expiry,
		CallStrike:       decodeAmount(r.CallStrike),
		OracleName:       r.OracleName,
		OracleConfig:     append([]byte(nil), r.OracleConfig...),
		Refi: loan.RefiConfig{
			Enabled:        r.RefiEnabled,
			Venue:          r.RefiVenue,
			GracePeriod:    r.RefiGracePeriod,
			MaxLTVBps:      r.RefiMaxLTVBps,
			AdapterPayload: append([]byte(nil), r.RefiAdapterPayload...),
		},
		Status:                loan.LoanStatus(r.Status),
		SettlementPrice:       decodeAmount(r.SettlementPrice),
		RefiEligible:          r.RefiEligible,
		CollateralForBorrower: decodeAmount(r.CollateralForBorrower),
		CollateralForLender:   decodeAmount(r.CollateralForLender),
		BorrowerClaimed:       r.BorrowerClaimed,
		LenderClaimed:         r.LenderClaimed,
		CreatedAt:             r.CreatedUnix,
	}, nil
}

// LoanGet loads a loan by ID. The returned instance is private to the caller.
func (s *Store) LoanGet(id [32]byte) (*loan.Loan, bool) {
	if s == nil || s.db == nil {
		return nil, false
	}
	var record LoanRecord
	if err := s.db.First(&record, "id = ?", encodeID(id)).Error; err != nil {
		return nil, false
	}
	l, err := recordToLoan(&record)
	if err != nil {
		return nil, false
	}
	return l, true
}

// LoanPut writes a loan, inserting or overwriting the full row.
func (s *Store) LoanPut(l *loan.Loan) error {
	if s == nil || s.db == nil {
		return errors.New("storage: not configured")
	}
	if l == nil {
		return errors.New("storage: nil loan")
	}
	return s.db.Save(loanToRecord(l)).Error
}

// LoansByStatus lists loans in the given status ordered by expiry. Used by
// the keeper sweep and the gateway's listing endpoint.
func (s *Store) LoansByStatus(status loan.LoanStatus, limit int) ([]*loan.Loan, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage: not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	var records []LoanRecord
	if err := s.db.Where("status = ?", uint8(status)).Order("expiry asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	loans := make([]*loan.Loan, 0, len(records))
	for i := range records {
		l, err := recordToLoan(&records[i])
		if err != nil {
			return nil, err
		}
		loans = append(loans, l)
	}
	return loans, nil
}

// GetAccount implements ledger.State.
func (s *Store) GetAccount(addr [20]byte) (*types.Account, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage: not configured")
	}
	key := encodeAddr(addr)
	acc := types.NewAccount()
	var record AccountRecord
	err := s.db.First(&record, "address = ?", key).Error
	switch {
	case err == nil:
		acc.Nonce = record.Nonce
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Fresh account.
	default:
		return nil, err
	}
	var balances []BalanceRecord
	if err := s.db.Where("address = ?", key).Find(&balances).Error; err != nil {
		return nil, err
	}
	for _, row := range balances {
		amount := decodeAmount(row.Amount)
		if amount == nil {
			return nil, fmt.Errorf("storage: malformed balance for %s/%s", key, row.Asset)
		}
		acc.SetBalance(row.Asset, amount)
	}
	return acc, nil
}

// PutAccount implements ledger.State.
func (s *Store) PutAccount(addr [20]byte, account *types.Account) error {
	if s == nil || s.db == nil {
		return errors.New("storage: not configured")
	}
	if account == nil {
		return errors.New("storage: nil account")
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		return saveAccountTx(tx, addr, account)
	})
}

func saveAccountTx(tx *gorm.DB, addr [20]byte, account *types.Account) error {
	key := encodeAddr(addr)
	if err := tx.Save(&AccountRecord{Address: key, Nonce: account.Nonce}).Error; err != nil {
		return err
	}
	for asset, amount := range account.Balances {
		row := BalanceRecord{Address: key, Asset: asset, Amount: encodeAmount(amount)}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// PutAccounts implements ledger.BatchState: every account lands in a single
// database transaction, so a transfer's debit and credit commit together or
// not at all.
func (s *Store) PutAccounts(accounts map[[20]byte]*types.Account) error {
	if s == nil || s.db == nil {
		return errors.New("storage: not configured")
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for addr, account := range accounts {
			if account == nil {
				return errors.New("storage: nil account")
			}
			if err := saveAccountTx(tx, addr, account); err != nil {
				return err
			}
		}
		return nil
	})
}

// QuoteNonceUsed reports whether the lender nonce has been consumed.
func (s *Store) QuoteNonceUsed(lender [20]byte, nonce uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("storage: not configured")
	}
	var count int64
	err := s.db.Model(&ConsumedNonce{}).
		Where("lender = ? AND nonce = ?", encodeAddr(lender), nonce).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// QuoteNonceConsume marks the lender nonce as spent. Consuming an already
// spent nonce fails on the primary key.
func (s *Store) QuoteNonceConsume(lender [20]byte, nonce uint64) error {
	if s == nil || s.db == nil {
		return errors.New("storage: not configured")
	}
	return s.db.Create(&ConsumedNonce{Lender: encodeAddr(lender), Nonce: nonce}).Error
}

// AppendEvent persists one audit trail row.
func (s *Store) AppendEvent(evt *types.Event) error {
	if s == nil || s.db == nil {
		return errors.New("storage: not configured")
	}
	if evt == nil {
		return errors.New("storage: nil event")
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	return s.db.Create(&EventRecord{
		Type:       evt.Type,
		LoanID:     evt.Attributes["id"],
		Attributes: string(attrs),
	}).Error
}

// EventsForLoan returns the audit trail for a loan in append order.
func (s *Store) EventsForLoan(id [32]byte) ([]*types.Event, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage: not configured")
	}
	var records []EventRecord
	if err := s.db.Where("loan_id = ?", encodeID(id)).Order("id asc").Find(&records).Error; err != nil {
		return nil, err
	}
	events := make([]*types.Event, 0, len(records))
	for _, record := range records {
		attrs := make(map[string]string)
		if record.Attributes != "" {
			if err := json.Unmarshal([]byte(record.Attributes), &attrs); err != nil {
				return nil, err
			}
		}
		events = append(events, &types.Event{Type: record.Type, Attributes: attrs})
	}
	return events, nil
}

// IdempotencyGet loads a stored idempotent response by key.
func (s *Store) IdempotencyGet(key string) (*IdempotencyKey, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage: not configured")
	}
	var record IdempotencyKey
	err := s.db.First(&record, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// IdempotencyPut stores an idempotent response. The first writer wins.
func (s *Store) IdempotencyPut(record *IdempotencyKey) error {
	if s == nil || s.db == nil {
		return errors.New("storage: not configured")
	}
	if record == nil {
		return errors.New("storage: nil idempotency record")
	}
	return s.db.Create(record).Error
}
