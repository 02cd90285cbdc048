package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ridewell/ridewell/internal/model"
)

// Queries is the set of typed operations available against the store,
// either autocommit (Store.Q) or inside one transaction (Store.WithTx).
// Conditional updates return false when the WHERE clause matched no
// row, which is how accept/cancel races are decided: whoever commits
// first wins, the loser observes false and maps it to a domain error.
type Queries interface {
	CreateUser(ctx context.Context, name string, role model.Role) (model.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)

	CreateAccount(ctx context.Context, userID uuid.UUID, initial int64) (model.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (model.Account, error)
	GetAccountByUser(ctx context.Context, userID uuid.UUID) (model.Account, error)
	// GetAccountForUpdate takes a row lock; only valid inside WithTx.
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (model.Account, error)
	SetBalance(ctx context.Context, id uuid.UUID, balance int64) error

	InsertLedgerTransaction(ctx context.Context, txn model.LedgerTransaction) error
	ListLedgerTransactions(ctx context.Context, accountID uuid.UUID, f model.HistoryFilter) ([]model.LedgerTransaction, error)

	InsertRequest(ctx context.Context, req model.Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (model.Request, error)
	// GetRequestForUpdate takes a row lock; only valid inside WithTx.
	GetRequestForUpdate(ctx context.Context, id uuid.UUID) (model.Request, error)
	ListOpenRequests(ctx context.Context, kind model.Kind) ([]model.Request, error)

	AcceptRequest(ctx context.Context, id, driverID uuid.UUID, at time.Time) (bool, error)
	MarkPickedUp(ctx context.Context, id, driverID uuid.UUID, at time.Time) (bool, error)
	AdvanceToInTransit(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	CompleteRequest(ctx context.Context, id uuid.UUID, fare int64, at time.Time) (bool, error)
	CancelRequest(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error)

	RecordPosition(ctx context.Context, pos model.Position) error
	ListPositions(ctx context.Context, requestID uuid.UUID, limit int) ([]model.Position, error)

	GetSettlementByRequest(ctx context.Context, requestID uuid.UUID) (model.SettlementRecord, error)
	InsertSettlement(ctx context.Context, rec model.SettlementRecord) error
}

// Store is the storage handle threaded through every service. All
// contended state lives behind it; there is no other shared mutable
// state in the process.
type Store interface {
	// Q returns autocommit queries backed by the pool.
	Q() Queries
	// WithTx runs fn inside one transaction. fn returning an error
	// rolls back everything it did; nothing partial is ever visible
	// to other transactions.
	WithTx(ctx context.Context, fn func(q Queries) error) error
}
