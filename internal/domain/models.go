// internal/domain/models.go
package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// Domain errors shared across services.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrCycleNotFound       = errors.New("cycle not found")
	ErrNotCreditCard       = errors.New("account is not a credit card")
)

type AccountType string

const (
	AccountCash       AccountType = "cash"
	AccountBank       AccountType = "bank"
	AccountCreditCard AccountType = "credit_card"
)

type TransactionType string

const (
	TxnExpense  TransactionType = "expense"
	TxnIncome   TransactionType = "income"
	TxnDebt     TransactionType = "debt"
	TxnTransfer TransactionType = "transfer"
)

// EntryMode classifies how a cashback entry affects cycle aggregates.
type EntryMode string

const (
	// EntryReal is a reward the bank actually paid; consumes budget first.
	EntryReal EntryMode = "real"
	// EntryVirtual is a projected reward derived from the policy.
	EntryVirtual EntryMode = "virtual"
	// EntryVoluntary is a reward knowingly given up; counts as overflow loss.
	EntryVoluntary EntryMode = "voluntary"
)

type Account struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Type AccountType `json:"type"`
	// CashbackConfig is the raw stored rewards configuration. It may be
	// null, a JSON object, a JSON string, or a double-encoded JSON string;
	// cashback.ParseProgram owns the decoding.
	CashbackConfig json.RawMessage `json:"cashbackConfig,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (a *Account) IsCreditCard() bool {
	return a != nil && a.Type == AccountCreditCard
}

type Transaction struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"accountId"`
	Type       TransactionType `json:"type"`
	Amount     float64         `json:"amount"`
	CategoryID string          `json:"categoryId,omitempty"`
	Note       string          `json:"note,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	// CycleTag is the canonical "YYYY-MM" tag of the billing cycle this
	// transaction accrues into. Empty for accounts without a cycle type.
	CycleTag string `json:"cycleTag,omitempty"`
	Voided   bool   `json:"voided"`
}

// Cycle is one accounting period for a credit-card account. Exactly one row
// exists per (AccountID, CycleTag); aggregates are owned by the recompute
// pass and are never patched incrementally.
type Cycle struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"accountId"`
	CycleTag       string    `json:"cycleTag"`
	MaxBudget      *float64  `json:"maxBudget,omitempty"`
	MinSpendTarget *float64  `json:"minSpendTarget,omitempty"`
	SpentAmount    float64   `json:"spentAmount"`
	RealAwarded    float64   `json:"realAwarded"`
	VirtualProfit  float64   `json:"virtualProfit"`
	OverflowLoss   float64   `json:"overflowLoss"`
	IsExhausted    bool      `json:"isExhausted"`
	MetMinSpend    bool      `json:"metMinSpend"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CashbackEntry records the reward attributed to a single transaction within
// a cycle. One entry exists per (AccountID, TransactionID) and is upserted
// whenever the owning transaction changes.
type CashbackEntry struct {
	ID             string          `json:"id"`
	CycleID        string          `json:"cycleId"`
	AccountID      string          `json:"accountId"`
	TransactionID  string          `json:"transactionId"`
	Mode           EntryMode       `json:"mode"`
	Amount         float64         `json:"amount"`
	CountsToBudget bool            `json:"countsToBudget"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}
