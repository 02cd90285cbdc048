package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridewell/ridewell/internal/model"
	"github.com/ridewell/ridewell/internal/repository"
)

// Settlement moves the fare from requester to driver as one atomic
// unit: debit, credit, and the settlement record commit together or
// not at all. The record's unique request id makes retries safe.
type Settlement struct {
	store repository.Store
	log   *zap.Logger
}

func NewSettlement(store repository.Store, log *zap.Logger) *Settlement {
	return &Settlement{store: store, log: log}
}

// Settle runs standalone, in its own transaction. A completed record
// for the same request is returned as-is; a retry never charges twice.
// ErrAlreadySettled is returned only when the existing record does not
// match the requested amount, which indicates a caller bug rather than
// a benign retry.
func (s *Settlement) Settle(ctx context.Context, requestID, payerAccountID, payeeAccountID uuid.UUID, amount int64) (model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		var err error
		rec, _, err = settleTx(ctx, q, requestID, payerAccountID, payeeAccountID, amount)
		return err
	})
	if err != nil {
		return model.SettlementRecord{}, err
	}
	return rec, nil
}

// settleTx performs the debit+credit pair inside the caller's
// transaction. replayed reports that an existing completed record was
// returned and no money moved.
func settleTx(ctx context.Context, q repository.Queries, requestID, payerAccountID, payeeAccountID uuid.UUID, amount int64) (rec model.SettlementRecord, replayed bool, err error) {
	if amount <= 0 {
		return rec, false, fmt.Errorf("%w: settlement amount must be positive", model.ErrValidation)
	}
	if payerAccountID == payeeAccountID {
		return rec, false, fmt.Errorf("%w: payer and payee must differ", model.ErrValidation)
	}

	existing, err := q.GetSettlementByRequest(ctx, requestID)
	switch {
	case err == nil:
		if existing.Status == model.SettlementCompleted && existing.Amount == amount {
			return existing, true, nil
		}
		return rec, false, fmt.Errorf("%w: request %s", model.ErrAlreadySettled, requestID)
	case errors.Is(err, model.ErrNotFound):
		// first settlement for this request
	default:
		return rec, false, err
	}

	// Lock both account rows in id order before touching either
	// balance, so two settlements sharing accounts cannot deadlock.
	first, second := payerAccountID, payeeAccountID
	if bytes.Compare(first[:], second[:]) > 0 {
		first, second = second, first
	}
	if _, err := q.GetAccountForUpdate(ctx, first); err != nil {
		return rec, false, err
	}
	if _, err := q.GetAccountForUpdate(ctx, second); err != nil {
		return rec, false, err
	}

	// Debit before credit; a failed debit aborts the transaction with
	// no ledger rows and no settlement record.
	debitTxn, err := applyLedger(ctx, q, payerAccountID, model.DirectionDebit, amount, "fare payment", &requestID)
	if err != nil {
		return rec, false, err
	}
	creditTxn, err := applyLedger(ctx, q, payeeAccountID, model.DirectionCredit, amount, "fare payout", &requestID)
	if err != nil {
		return rec, false, err
	}

	rec = model.SettlementRecord{
		ID:          uuid.New(),
		RequestID:   requestID,
		DebitTxnID:  debitTxn.ID,
		CreditTxnID: creditTxn.ID,
		Status:      model.SettlementCompleted,
		Amount:      amount,
		CreatedAt:   time.Now().UTC(),
	}
	if err := q.InsertSettlement(ctx, rec); err != nil {
		return model.SettlementRecord{}, false, err
	}
	return rec, false, nil
}
