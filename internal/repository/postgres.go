package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ridewell/ridewell/internal/model"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, so every query
// works unchanged inside and outside a transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store over a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Q() Queries {
	return &queries{db: p.pool}
}

// WithTx runs fn at REPEATABLE READ. Row locks taken via the
// *ForUpdate queries are held until commit or rollback.
func (p *Postgres) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// IsSerializationFailure reports whether err is a transient conflict
// (serialization failure or deadlock) that is safe to retry because
// the transaction was fully rolled back.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

type queries struct {
	db dbtx
}

// ── users ────────────────────────────────────────────────────────────

func (q *queries) CreateUser(ctx context.Context, name string, role model.Role) (model.User, error) {
	u := model.User{ID: uuid.New(), Name: name, Role: role}
	err := q.db.QueryRow(ctx,
		`INSERT INTO users (id, name, role) VALUES ($1, $2, $3) RETURNING created_at`,
		u.ID, u.Name, u.Role,
	).Scan(&u.CreatedAt)
	if err != nil {
		return model.User{}, fmt.Errorf("user insert failed: %w", err)
	}
	return u, nil
}

func (q *queries) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	var u model.User
	err := q.db.QueryRow(ctx,
		`SELECT id, name, role, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, model.ErrNotFound
	}
	return u, err
}

// ── accounts ─────────────────────────────────────────────────────────

func (q *queries) CreateAccount(ctx context.Context, userID uuid.UUID, initial int64) (model.Account, error) {
	a := model.Account{ID: uuid.New(), UserID: userID, Balance: initial}
	err := q.db.QueryRow(ctx,
		`INSERT INTO accounts (id, user_id, balance) VALUES ($1, $2, $3) RETURNING version, created_at`,
		a.ID, a.UserID, a.Balance,
	).Scan(&a.Version, &a.CreatedAt)
	if err != nil {
		return model.Account{}, fmt.Errorf("account insert failed: %w", err)
	}
	return a, nil
}

const accountCols = `id, user_id, balance, version, created_at`

func (q *queries) scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Balance, &a.Version, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, model.ErrNotFound
	}
	return a, err
}

func (q *queries) GetAccount(ctx context.Context, id uuid.UUID) (model.Account, error) {
	return q.scanAccount(q.db.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
}

func (q *queries) GetAccountByUser(ctx context.Context, userID uuid.UUID) (model.Account, error) {
	return q.scanAccount(q.db.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE user_id = $1`, userID))
}

func (q *queries) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (model.Account, error) {
	return q.scanAccount(q.db.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

func (q *queries) SetBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE accounts SET balance = $2, version = version + 1 WHERE id = $1`, id, balance)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ── ledger ───────────────────────────────────────────────────────────

func (q *queries) InsertLedgerTransaction(ctx context.Context, txn model.LedgerTransaction) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO ledger_transactions (id, account_id, direction, amount, balance_after, reason, correlation_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		txn.ID, txn.AccountID, txn.Direction, txn.Amount, txn.BalanceAfter, txn.Reason, txn.CorrelationID, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("ledger insert failed: %w", err)
	}
	return nil
}

func (q *queries) ListLedgerTransactions(ctx context.Context, accountID uuid.UUID, f model.HistoryFilter) ([]model.LedgerTransaction, error) {
	var (
		where = []string{"account_id = $1"}
		args  = []any{accountID}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Direction != nil {
		add("direction = $%d", *f.Direction)
	}
	if f.MinAmount != nil {
		add("amount >= $%d", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		add("amount <= $%d", *f.MaxAmount)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}
	if f.Before != nil {
		add("created_at < $%d", *f.Before)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)

	sql := fmt.Sprintf(
		`SELECT id, account_id, direction, amount, balance_after, reason, correlation_id, created_at
		 FROM ledger_transactions WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		strings.Join(where, " AND "), len(args))

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger query failed: %w", err)
	}
	defer rows.Close()

	var txns []model.LedgerTransaction
	for rows.Next() {
		var t model.LedgerTransaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Direction, &t.Amount,
			&t.BalanceAfter, &t.Reason, &t.CorrelationID, &t.CreatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ── requests ─────────────────────────────────────────────────────────

func (q *queries) InsertRequest(ctx context.Context, req model.Request) error {
	var weight *int64
	if req.WeightGrams > 0 {
		weight = &req.WeightGrams
	}
	_, err := q.db.Exec(ctx,
		`INSERT INTO requests (id, kind, requester_id, status,
		    pickup_address, pickup_lat, pickup_lon,
		    dropoff_address, dropoff_lat, dropoff_lon,
		    weight_grams, completion_code, estimated_fare, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		req.ID, req.Kind, req.RequesterID, req.Status,
		req.Pickup.Address, req.Pickup.Lat, req.Pickup.Lon,
		req.Dropoff.Address, req.Dropoff.Lat, req.Dropoff.Lon,
		weight, req.CompletionCode, req.EstimatedFare, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("request insert failed: %w", err)
	}
	return nil
}

const requestCols = `id, kind, requester_id, driver_id, status,
	pickup_address, pickup_lat, pickup_lon,
	dropoff_address, dropoff_lat, dropoff_lon,
	weight_grams, completion_code, estimated_fare, actual_fare, cancel_reason,
	created_at, assigned_at, picked_up_at, in_transit_at, delivered_at, cancelled_at`

func scanRequest(row pgx.Row) (model.Request, error) {
	var (
		r      model.Request
		weight *int64
		reason *string
	)
	err := row.Scan(&r.ID, &r.Kind, &r.RequesterID, &r.DriverID, &r.Status,
		&r.Pickup.Address, &r.Pickup.Lat, &r.Pickup.Lon,
		&r.Dropoff.Address, &r.Dropoff.Lat, &r.Dropoff.Lon,
		&weight, &r.CompletionCode, &r.EstimatedFare, &r.ActualFare, &reason,
		&r.CreatedAt, &r.AssignedAt, &r.PickedUpAt, &r.InTransitAt, &r.DeliveredAt, &r.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Request{}, model.ErrNotFound
	}
	if err != nil {
		return model.Request{}, err
	}
	if weight != nil {
		r.WeightGrams = *weight
	}
	if reason != nil {
		r.CancelReason = *reason
	}
	return r, nil
}

func (q *queries) GetRequest(ctx context.Context, id uuid.UUID) (model.Request, error) {
	return scanRequest(q.db.QueryRow(ctx,
		`SELECT `+requestCols+` FROM requests WHERE id = $1`, id))
}

func (q *queries) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (model.Request, error) {
	return scanRequest(q.db.QueryRow(ctx,
		`SELECT `+requestCols+` FROM requests WHERE id = $1 FOR UPDATE`, id))
}

func (q *queries) ListOpenRequests(ctx context.Context, kind model.Kind) ([]model.Request, error) {
	sql := `SELECT ` + requestCols + ` FROM requests WHERE status = $1`
	args := []any{model.StatusPending}
	if kind != "" {
		sql += ` AND kind = $2`
		args = append(args, kind)
	}
	sql += ` ORDER BY created_at ASC`

	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("open requests query failed: %w", err)
	}
	defer rows.Close()

	var reqs []model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// AcceptRequest is the conditional update that decides the two-drivers
// race: only the statement that still sees PENDING assigns itself.
func (q *queries) AcceptRequest(ctx context.Context, id, driverID uuid.UUID, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE requests SET status = $3, driver_id = $2, assigned_at = $4
		 WHERE id = $1 AND status = $5`,
		id, driverID, model.StatusDriverAssigned, at, model.StatusPending)
	if err != nil {
		return false, fmt.Errorf("accept update failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *queries) MarkPickedUp(ctx context.Context, id, driverID uuid.UUID, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE requests SET status = $3, picked_up_at = $4
		 WHERE id = $1 AND driver_id = $2 AND status = $5`,
		id, driverID, model.StatusPickedUp, at, model.StatusDriverAssigned)
	if err != nil {
		return false, fmt.Errorf("pickup update failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *queries) AdvanceToInTransit(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE requests SET status = $2, in_transit_at = $3
		 WHERE id = $1 AND status = $4`,
		id, model.StatusInTransit, at, model.StatusPickedUp)
	if err != nil {
		return false, fmt.Errorf("in-transit update failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *queries) CompleteRequest(ctx context.Context, id uuid.UUID, fare int64, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE requests SET status = $2, actual_fare = $3, delivered_at = $4
		 WHERE id = $1 AND status IN ($5, $6)`,
		id, model.StatusDelivered, fare, at, model.StatusPickedUp, model.StatusInTransit)
	if err != nil {
		return false, fmt.Errorf("complete update failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q *queries) CancelRequest(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE requests SET status = $2, cancel_reason = $3, cancelled_at = $4
		 WHERE id = $1 AND status NOT IN ($5, $6)`,
		id, model.StatusCancelled, reason, at, model.StatusDelivered, model.StatusCancelled)
	if err != nil {
		return false, fmt.Errorf("cancel update failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ── positions ────────────────────────────────────────────────────────

func (q *queries) RecordPosition(ctx context.Context, pos model.Position) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO request_positions (request_id, lat, lon, recorded_at)
		 VALUES ($1, $2, $3, $4)`,
		pos.RequestID, pos.Lat, pos.Lon, pos.RecordedAt)
	if err != nil {
		return fmt.Errorf("position insert failed: %w", err)
	}
	return nil
}

func (q *queries) ListPositions(ctx context.Context, requestID uuid.UUID, limit int) ([]model.Position, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := q.db.Query(ctx,
		`SELECT request_id, lat, lon, recorded_at FROM request_positions
		 WHERE request_id = $1 ORDER BY recorded_at DESC LIMIT $2`,
		requestID, limit)
	if err != nil {
		return nil, fmt.Errorf("positions query failed: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.RequestID, &p.Lat, &p.Lon, &p.RecordedAt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ── settlements ──────────────────────────────────────────────────────

func (q *queries) GetSettlementByRequest(ctx context.Context, requestID uuid.UUID) (model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := q.db.QueryRow(ctx,
		`SELECT id, request_id, debit_txn_id, credit_txn_id, status, amount, created_at
		 FROM settlement_records WHERE request_id = $1`, requestID,
	).Scan(&rec.ID, &rec.RequestID, &rec.DebitTxnID, &rec.CreditTxnID,
		&rec.Status, &rec.Amount, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SettlementRecord{}, model.ErrNotFound
	}
	return rec, err
}

// InsertSettlement relies on the unique constraint on request_id as the
// backstop against two deliver calls racing past the existence probe.
func (q *queries) InsertSettlement(ctx context.Context, rec model.SettlementRecord) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO settlement_records (id, request_id, debit_txn_id, credit_txn_id, status, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.RequestID, rec.DebitTxnID, rec.CreditTxnID, rec.Status, rec.Amount, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.ErrAlreadySettled
		}
		return fmt.Errorf("settlement insert failed: %w", err)
	}
	return nil
}
