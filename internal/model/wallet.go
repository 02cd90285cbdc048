package model

import (
	"time"

	"github.com/google/uuid"
)

// Direction of a ledger transaction relative to the owning account.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Delta is the signed effect of the transaction on the balance.
func (d Direction) Delta(amount int64) int64 {
	if d == DirectionDebit {
		return -amount
	}
	return amount
}

// Account is a user's wallet. Balance is in integer minor units and is
// only ever changed by the ledger under a row lock; it must equal the
// sum of all committed transaction deltas at all times.
type Account struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Balance   int64     `json:"balance"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerTransaction is one immutable balance mutation. BalanceAfter is
// the snapshot taken while the account row was locked; the latest
// transaction's snapshot always equals the current balance.
type LedgerTransaction struct {
	ID            uuid.UUID  `json:"id"`
	AccountID     uuid.UUID  `json:"account_id"`
	Direction     Direction  `json:"direction"`
	Amount        int64      `json:"amount"`
	BalanceAfter  int64      `json:"balance_after"`
	Reason        string     `json:"reason"`
	CorrelationID *uuid.UUID `json:"correlation_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// HistoryFilter restricts and pages a ledger history listing. Before
// is a keyset cursor: only transactions created strictly earlier are
// returned, newest first, so a listing can be resumed from the last
// row seen.
type HistoryFilter struct {
	Direction *Direction
	MinAmount *int64
	MaxAmount *int64
	From      *time.Time
	To        *time.Time
	Before    *time.Time
	Limit     int
}

// SettlementStatus of a settlement record.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementCompleted SettlementStatus = "completed"
	SettlementFailed    SettlementStatus = "failed"
)

// SettlementRecord ties the debit/credit pair produced at completion
// to the request that triggered it. RequestID is unique: a retried
// completion finds the existing record instead of charging again.
type SettlementRecord struct {
	ID          uuid.UUID        `json:"id"`
	RequestID   uuid.UUID        `json:"request_id"`
	DebitTxnID  uuid.UUID        `json:"debit_txn_id"`
	CreditTxnID uuid.UUID        `json:"credit_txn_id"`
	Status      SettlementStatus `json:"status"`
	Amount      int64            `json:"amount"`
	CreatedAt   time.Time        `json:"created_at"`
}

// User is the minimal identity the lifecycle needs; authentication is
// handled upstream.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Role of an authenticated actor.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)
