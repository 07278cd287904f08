package models

import "github.com/shopspring/decimal"

// AccountKind classifies where money is held.
type AccountKind string

const (
	AccountCash    AccountKind = "cash"
	AccountBank    AccountKind = "bank"
	AccountCard    AccountKind = "card"
	AccountSavings AccountKind = "savings"
)

// Account is a wallet, bank account or card the user books transactions on.
type Account struct {
	CacheableRecord
	SyncState

	Name     string          `db:"name" json:"name"`
	Kind     AccountKind     `db:"kind" json:"kind"`
	Currency string          `db:"currency" json:"currency"`
	Balance  decimal.Decimal `db:"balance" json:"balance"`
	Archived bool            `db:"archived" json:"archived"`
}

// TableName returns the table name for Account.
func (Account) TableName() string {
	return "accounts"
}

// EntityType implements Syncable.
func (*Account) EntityType() EntityType {
	return EntityAccount
}

// AccountRequest is the create/update request view of an Account.
type AccountRequest struct {
	Name     string          `json:"name"`
	Kind     AccountKind     `json:"kind"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Archived bool            `json:"archived"`
}

// RequestBody implements Syncable.
func (a *Account) RequestBody() any {
	return AccountRequest{
		Name:     a.Name,
		Kind:     a.Kind,
		Currency: a.Currency,
		Balance:  a.Balance,
		Archived: a.Archived,
	}
}
