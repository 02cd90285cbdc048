package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridewell/ridewell/internal/model"
	"github.com/ridewell/ridewell/internal/repository"
)

// Ledger is the only component that changes a stored balance. Every
// mutation happens under the account's row lock, so concurrent debits
// serialize and the insufficient-funds check can never act on a stale
// balance.
type Ledger struct {
	store repository.Store
	log   *zap.Logger
}

func NewLedger(store repository.Store, log *zap.Logger) *Ledger {
	return &Ledger{store: store, log: log}
}

// Credit increases the balance and appends the audit row in one
// transaction.
func (l *Ledger) Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason string, correlationID *uuid.UUID) (model.LedgerTransaction, error) {
	var txn model.LedgerTransaction
	err := l.store.WithTx(ctx, func(q repository.Queries) error {
		var err error
		txn, err = applyLedger(ctx, q, accountID, model.DirectionCredit, amount, reason, correlationID)
		return err
	})
	if err != nil {
		return model.LedgerTransaction{}, err
	}
	l.log.Info("ledger credit",
		zap.String("account_id", accountID.String()),
		zap.Int64("amount", amount),
		zap.Int64("balance_after", txn.BalanceAfter))
	return txn, nil
}

// Debit decreases the balance, failing with ErrInsufficientFunds if the
// result would be negative. The check and the write happen while the
// row lock is held.
func (l *Ledger) Debit(ctx context.Context, accountID uuid.UUID, amount int64, reason string, correlationID *uuid.UUID) (model.LedgerTransaction, error) {
	var txn model.LedgerTransaction
	err := l.store.WithTx(ctx, func(q repository.Queries) error {
		var err error
		txn, err = applyLedger(ctx, q, accountID, model.DirectionDebit, amount, reason, correlationID)
		return err
	})
	if err != nil {
		return model.LedgerTransaction{}, err
	}
	l.log.Info("ledger debit",
		zap.String("account_id", accountID.String()),
		zap.Int64("amount", amount),
		zap.Int64("balance_after", txn.BalanceAfter))
	return txn, nil
}

// Balance reads the current committed balance.
func (l *Ledger) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	acct, err := l.store.Q().GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// AccountForUser resolves a user's wallet.
func (l *Ledger) AccountForUser(ctx context.Context, userID uuid.UUID) (model.Account, error) {
	return l.store.Q().GetAccountByUser(ctx, userID)
}

// History lists transactions newest first. The filter's Before cursor
// makes the listing restartable from the last row seen.
func (l *Ledger) History(ctx context.Context, accountID uuid.UUID, f model.HistoryFilter) ([]model.LedgerTransaction, error) {
	if _, err := l.store.Q().GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return l.store.Q().ListLedgerTransactions(ctx, accountID, f)
}

// applyLedger is the locked read-modify-write shared by the standalone
// credit/debit operations and by settlement, which calls it twice
// inside its own transaction.
func applyLedger(ctx context.Context, q repository.Queries, accountID uuid.UUID, dir model.Direction, amount int64, reason string, correlationID *uuid.UUID) (model.LedgerTransaction, error) {
	if amount <= 0 {
		return model.LedgerTransaction{}, fmt.Errorf("%w: amount must be positive", model.ErrValidation)
	}

	acct, err := q.GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return model.LedgerTransaction{}, err
	}

	newBalance := acct.Balance + dir.Delta(amount)
	if newBalance < 0 {
		return model.LedgerTransaction{}, fmt.Errorf("%w: balance %d, debit %d",
			model.ErrInsufficientFunds, acct.Balance, amount)
	}

	if err := q.SetBalance(ctx, accountID, newBalance); err != nil {
		return model.LedgerTransaction{}, err
	}

	txn := model.LedgerTransaction{
		ID:            uuid.New(),
		AccountID:     accountID,
		Direction:     dir,
		Amount:        amount,
		BalanceAfter:  newBalance,
		Reason:        reason,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := q.InsertLedgerTransaction(ctx, txn); err != nil {
		return model.LedgerTransaction{}, err
	}
	return txn, nil
}
