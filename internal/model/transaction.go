// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a single monetary movement on a bank or card account.
// Amounts are signed: negative values are money leaving the account.
type Transaction struct {
	Date        time.Time
	ID          string
	TenantID    string
	AccountID   string
	Description string // Counterpart description as printed on the statement
	Hash        string
	Amount      decimal.Decimal
}

// IsOutflow reports whether the transaction moves money out of the account.
func (t *Transaction) IsOutflow() bool {
	return t.Amount.IsNegative()
}

// AbsAmount returns the unsigned transaction amount.
func (t *Transaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// GenerateHash creates a unique hash for duplicate detection.
// The statement ID is part of the hash: identical payments on the same day are distinct movements.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%s:%s:%s:%s:%s",
		t.TenantID,
		t.ID,
		t.Date.Format("2006-01-02"),
		t.Amount.StringFixed(2),
		t.Description,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
