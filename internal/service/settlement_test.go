package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ridewell/ridewell/internal/model"
)

func TestSettlementMovesFunds(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	settlement := NewSettlement(store, zap.NewNop())
	payer := newTestAccount(t, store, 5000)
	payee := newTestAccount(t, store, 0)
	requestID := uuid.New()

	rec, err := settlement.Settle(ctx, requestID, payer.ID, payee.ID, 1550)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementCompleted, rec.Status)
	assert.Equal(t, int64(1550), rec.Amount)
	assert.Equal(t, requestID, rec.RequestID)

	payerAcct, err := store.Q().GetAccount(ctx, payer.ID)
	require.NoError(t, err)
	payeeAcct, err := store.Q().GetAccount(ctx, payee.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3450), payerAcct.Balance)
	assert.Equal(t, int64(1550), payeeAcct.Balance)

	// Both sides of the transfer carry the request id so an auditor can
	// pair them back up.
	debits, err := store.Q().ListLedgerTransactions(ctx, payer.ID, model.HistoryFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, debits)
	require.NotNil(t, debits[0].CorrelationID)
	assert.Equal(t, requestID, *debits[0].CorrelationID)
	assert.Equal(t, debits[0].ID, rec.DebitTxnID)
}

func TestSettlementIdempotentRetry(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	settlement := NewSettlement(store, zap.NewNop())
	payer := newTestAccount(t, store, 5000)
	payee := newTestAccount(t, store, 0)
	requestID := uuid.New()

	first, err := settlement.Settle(ctx, requestID, payer.ID, payee.ID, 1000)
	require.NoError(t, err)

	second, err := settlement.Settle(ctx, requestID, payer.ID, payee.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "a retry must return the existing record")

	payerAcct, err := store.Q().GetAccount(ctx, payer.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), payerAcct.Balance, "a retry must not charge twice")

	txns, err := store.Q().ListLedgerTransactions(ctx, payer.ID, model.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, txns, 2, "opening credit plus exactly one debit")
}

func TestSettlementAmountMismatchFails(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	settlement := NewSettlement(store, zap.NewNop())
	payer := newTestAccount(t, store, 5000)
	payee := newTestAccount(t, store, 0)
	requestID := uuid.New()

	_, err := settlement.Settle(ctx, requestID, payer.ID, payee.ID, 1000)
	require.NoError(t, err)

	_, err = settlement.Settle(ctx, requestID, payer.ID, payee.ID, 999)
	assert.ErrorIs(t, err, model.ErrAlreadySettled)
}

func TestSettlementInsufficientFundsRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	settlement := NewSettlement(store, zap.NewNop())
	payer := newTestAccount(t, store, 100)
	payee := newTestAccount(t, store, 0)
	requestID := uuid.New()

	_, err := settlement.Settle(ctx, requestID, payer.ID, payee.ID, 1550)
	require.ErrorIs(t, err, model.ErrInsufficientFunds)

	payerAcct, err := store.Q().GetAccount(ctx, payer.ID)
	require.NoError(t, err)
	payeeAcct, err := store.Q().GetAccount(ctx, payee.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), payerAcct.Balance)
	assert.Equal(t, int64(0), payeeAcct.Balance)

	_, err = store.Q().GetSettlementByRequest(ctx, requestID)
	assert.ErrorIs(t, err, model.ErrNotFound, "a failed settlement must leave no record")

	payeeTxns, err := store.Q().ListLedgerTransactions(ctx, payee.ID, model.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, payeeTxns, "a failed settlement must leave no ledger rows")
}

func TestSettlementValidation(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	settlement := NewSettlement(store, zap.NewNop())
	acct := newTestAccount(t, store, 1000)
	other := newTestAccount(t, store, 0)

	_, err := settlement.Settle(ctx, uuid.New(), acct.ID, other.ID, 0)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = settlement.Settle(ctx, uuid.New(), acct.ID, acct.ID, 500)
	assert.ErrorIs(t, err, model.ErrValidation)
}
