package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies money movement.
type TransactionKind string

const (
	TransactionIncome   TransactionKind = "income"
	TransactionExpense  TransactionKind = "expense"
	TransactionTransfer TransactionKind = "transfer"
)

// Transaction is a single booked money movement on an account.
// AccountID and CategoryID may reference local-only (negative) ids.
type Transaction struct {
	CacheableRecord
	SyncState

	AccountID        int64           `db:"account_id" json:"account_id"`
	CategoryID       int64           `db:"category_id" json:"category_id,omitempty"` // 0 = uncategorised
	Kind             TransactionKind `db:"kind" json:"kind"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Currency         string          `db:"currency" json:"currency"`
	Note             string          `db:"note" json:"note,omitempty"`
	OccurredAtMillis int64           `db:"occurred_at" json:"occurred_at"`
}

// TableName returns the table name for Transaction.
func (Transaction) TableName() string {
	return "transactions"
}

// EntityType implements Syncable.
func (*Transaction) EntityType() EntityType {
	return EntityTransaction
}

// OccurredAt returns OccurredAtMillis as time.Time.
func (t *Transaction) OccurredAt() time.Time {
	return time.UnixMilli(t.OccurredAtMillis)
}

// TransactionRequest is the create/update request view of a Transaction.
type TransactionRequest struct {
	AccountID  int64           `json:"account_id"`
	CategoryID *int64          `json:"category_id,omitempty"`
	Kind       TransactionKind `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Note       string          `json:"note,omitempty"`
	OccurredAt string          `json:"occurred_at"`
}

// RequestBody implements Syncable.
func (t *Transaction) RequestBody() any {
	req := TransactionRequest{
		AccountID:  t.AccountID,
		Kind:       t.Kind,
		Amount:     t.Amount,
		Currency:   t.Currency,
		Note:       t.Note,
		OccurredAt: t.OccurredAt().UTC().Format(time.RFC3339Nano),
	}
	if t.CategoryID != 0 {
		categoryID := t.CategoryID
		req.CategoryID = &categoryID
	}
	return req
}
