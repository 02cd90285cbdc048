package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ridewell/ridewell/internal/model"
	"github.com/ridewell/ridewell/internal/repository"
)

// fakeStore is an in-memory repository.Store with real transaction
// semantics: WithTx works on a deep copy and swaps it in on success,
// so a failed settlement observably rolls back every write it made.
// A single mutex serializes transactions and conditional updates,
// standing in for the database's row locks.
type fakeStore struct {
	mu    sync.Mutex
	state *fakeState
}

type fakeState struct {
	users       map[uuid.UUID]model.User
	accounts    map[uuid.UUID]model.Account
	ledger      []model.LedgerTransaction
	requests    map[uuid.UUID]model.Request
	positions   []model.Position
	settlements map[uuid.UUID]model.SettlementRecord // keyed by request id
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: &fakeState{
		users:       make(map[uuid.UUID]model.User),
		accounts:    make(map[uuid.UUID]model.Account),
		requests:    make(map[uuid.UUID]model.Request),
		settlements: make(map[uuid.UUID]model.SettlementRecord),
	}}
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		users:       make(map[uuid.UUID]model.User, len(s.users)),
		accounts:    make(map[uuid.UUID]model.Account, len(s.accounts)),
		ledger:      append([]model.LedgerTransaction(nil), s.ledger...),
		requests:    make(map[uuid.UUID]model.Request, len(s.requests)),
		positions:   append([]model.Position(nil), s.positions...),
		settlements: make(map[uuid.UUID]model.SettlementRecord, len(s.settlements)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.settlements {
		c.settlements[k] = v
	}
	return c
}

func (f *fakeStore) Q() repository.Queries {
	return &fakeQueries{store: f}
}

func (f *fakeStore) WithTx(_ context.Context, fn func(q repository.Queries) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	work := f.state.clone()
	if err := fn(&fakeQueries{st: work}); err != nil {
		return err
	}
	f.state = work
	return nil
}

// fakeQueries runs against the transaction's working state when st is
// set, and against the committed state (under the store mutex) when
// store is set.
type fakeQueries struct {
	store *fakeStore
	st    *fakeState
}

func (q *fakeQueries) with(fn func(st *fakeState) error) error {
	if q.st != nil {
		return fn(q.st)
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	return fn(q.store.state)
}

func (q *fakeQueries) CreateUser(_ context.Context, name string, role model.Role) (model.User, error) {
	u := model.User{ID: uuid.New(), Name: name, Role: role, CreatedAt: time.Now().UTC()}
	err := q.with(func(st *fakeState) error {
		st.users[u.ID] = u
		return nil
	})
	return u, err
}

func (q *fakeQueries) GetUser(_ context.Context, id uuid.UUID) (model.User, error) {
	var u model.User
	err := q.with(func(st *fakeState) error {
		var ok bool
		if u, ok = st.users[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return u, err
}

func (q *fakeQueries) CreateAccount(_ context.Context, userID uuid.UUID, initial int64) (model.Account, error) {
	a := model.Account{ID: uuid.New(), UserID: userID, Balance: initial, CreatedAt: time.Now().UTC()}
	err := q.with(func(st *fakeState) error {
		st.accounts[a.ID] = a
		return nil
	})
	return a, err
}

func (q *fakeQueries) GetAccount(_ context.Context, id uuid.UUID) (model.Account, error) {
	var a model.Account
	err := q.with(func(st *fakeState) error {
		var ok bool
		if a, ok = st.accounts[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return a, err
}

func (q *fakeQueries) GetAccountByUser(_ context.Context, userID uuid.UUID) (model.Account, error) {
	var a model.Account
	err := q.with(func(st *fakeState) error {
		for _, acct := range st.accounts {
			if acct.UserID == userID {
				a = acct
				return nil
			}
		}
		return model.ErrNotFound
	})
	return a, err
}

func (q *fakeQueries) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (model.Account, error) {
	return q.GetAccount(ctx, id)
}

func (q *fakeQueries) SetBalance(_ context.Context, id uuid.UUID, balance int64) error {
	return q.with(func(st *fakeState) error {
		a, ok := st.accounts[id]
		if !ok {
			return model.ErrNotFound
		}
		a.Balance = balance
		a.Version++
		st.accounts[id] = a
		return nil
	})
}

func (q *fakeQueries) InsertLedgerTransaction(_ context.Context, txn model.LedgerTransaction) error {
	return q.with(func(st *fakeState) error {
		st.ledger = append(st.ledger, txn)
		return nil
	})
}

func (q *fakeQueries) ListLedgerTransactions(_ context.Context, accountID uuid.UUID, f model.HistoryFilter) ([]model.LedgerTransaction, error) {
	var out []model.LedgerTransaction
	err := q.with(func(st *fakeState) error {
		for _, t := range st.ledger {
			if t.AccountID != accountID {
				continue
			}
			if f.Direction != nil && t.Direction != *f.Direction {
				continue
			}
			if f.MinAmount != nil && t.Amount < *f.MinAmount {
				continue
			}
			if f.MaxAmount != nil && t.Amount > *f.MaxAmount {
				continue
			}
			if f.From != nil && t.CreatedAt.Before(*f.From) {
				continue
			}
			if f.To != nil && t.CreatedAt.After(*f.To) {
				continue
			}
			if f.Before != nil && !t.CreatedAt.Before(*f.Before) {
				continue
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *fakeQueries) InsertRequest(_ context.Context, req model.Request) error {
	return q.with(func(st *fakeState) error {
		st.requests[req.ID] = req
		return nil
	})
}

func (q *fakeQueries) GetRequest(_ context.Context, id uuid.UUID) (model.Request, error) {
	var r model.Request
	err := q.with(func(st *fakeState) error {
		var ok bool
		if r, ok = st.requests[id]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return r, err
}

func (q *fakeQueries) GetRequestForUpdate(ctx context.Context, id uuid.UUID) (model.Request, error) {
	return q.GetRequest(ctx, id)
}

func (q *fakeQueries) ListOpenRequests(_ context.Context, kind model.Kind) ([]model.Request, error) {
	var out []model.Request
	err := q.with(func(st *fakeState) error {
		for _, r := range st.requests {
			if r.Status != model.StatusPending {
				continue
			}
			if kind != "" && r.Kind != kind {
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (q *fakeQueries) AcceptRequest(_ context.Context, id, driverID uuid.UUID, at time.Time) (bool, error) {
	matched := false
	err := q.with(func(st *fakeState) error {
		r, ok := st.requests[id]
		if !ok || r.Status != model.StatusPending {
			return nil
		}
		r.Status = model.StatusDriverAssigned
		r.DriverID = &driverID
		r.AssignedAt = &at
		st.requests[id] = r
		matched = true
		return nil
	})
	return matched, err
}

func (q *fakeQueries) MarkPickedUp(_ context.Context, id, driverID uuid.UUID, at time.Time) (bool, error) {
	matched := false
	err := q.with(func(st *fakeState) error {
		r, ok := st.requests[id]
		if !ok || r.Status != model.StatusDriverAssigned || r.DriverID == nil || *r.DriverID != driverID {
			return nil
		}
		r.Status = model.StatusPickedUp
		r.PickedUpAt = &at
		st.requests[id] = r
		matched = true
		return nil
	})
	return matched, err
}

func (q *fakeQueries) AdvanceToInTransit(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	matched := false
	err := q.with(func(st *fakeState) error {
		r, ok := st.requests[id]
		if !ok || r.Status != model.StatusPickedUp {
			return nil
		}
		r.Status = model.StatusInTransit
		r.InTransitAt = &at
		st.requests[id] = r
		matched = true
		return nil
	})
	return matched, err
}

func (q *fakeQueries) CompleteRequest(_ context.Context, id uuid.UUID, fare int64, at time.Time) (bool, error) {
	matched := false
	err := q.with(func(st *fakeState) error {
		r, ok := st.requests[id]
		if !ok || (r.Status != model.StatusPickedUp && r.Status != model.StatusInTransit) {
			return nil
		}
		r.Status = model.StatusDelivered
		r.ActualFare = &fare
		r.DeliveredAt = &at
		st.requests[id] = r
		matched = true
		return nil
	})
	return matched, err
}

func (q *fakeQueries) CancelRequest(_ context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	matched := false
	err := q.with(func(st *fakeState) error {
		r, ok := st.requests[id]
		if !ok || r.Status.Terminal() {
			return nil
		}
		r.Status = model.StatusCancelled
		r.CancelReason = reason
		r.CancelledAt = &at
		st.requests[id] = r
		matched = true
		return nil
	})
	return matched, err
}

func (q *fakeQueries) RecordPosition(_ context.Context, pos model.Position) error {
	return q.with(func(st *fakeState) error {
		st.positions = append(st.positions, pos)
		return nil
	})
}

func (q *fakeQueries) ListPositions(_ context.Context, requestID uuid.UUID, limit int) ([]model.Position, error) {
	var out []model.Position
	err := q.with(func(st *fakeState) error {
		for _, p := range st.positions {
			if p.RequestID == requestID {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (q *fakeQueries) GetSettlementByRequest(_ context.Context, requestID uuid.UUID) (model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := q.with(func(st *fakeState) error {
		var ok bool
		if rec, ok = st.settlements[requestID]; !ok {
			return model.ErrNotFound
		}
		return nil
	})
	return rec, err
}

func (q *fakeQueries) InsertSettlement(_ context.Context, rec model.SettlementRecord) error {
	return q.with(func(st *fakeState) error {
		if _, exists := st.settlements[rec.RequestID]; exists {
			return model.ErrAlreadySettled
		}
		st.settlements[rec.RequestID] = rec
		return nil
	})
}

// ── test doubles for the lifecycle's collaborators ───────────────────

type fakeMatcher struct {
	mu        sync.Mutex
	busy      map[uuid.UUID]bool
	positions map[uuid.UUID][2]float64
}

func newFakeMatcher() *fakeMatcher {
	return &fakeMatcher{busy: make(map[uuid.UUID]bool), positions: make(map[uuid.UUID][2]float64)}
}

func (m *fakeMatcher) MarkAvailable(_ context.Context, driverID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy[driverID] = false
	return nil
}

func (m *fakeMatcher) MarkBusy(_ context.Context, driverID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy[driverID] = true
	return nil
}

func (m *fakeMatcher) UpdatePosition(_ context.Context, driverID uuid.UUID, lat, lon float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[driverID] = [2]float64{lat, lon}
	return nil
}

func (m *fakeMatcher) isBusy(driverID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy[driverID]
}

type fakeBus struct {
	mu     sync.Mutex
	events []model.StatusEvent
}

func (b *fakeBus) Publish(_ string, data []byte) error {
	var ev model.StatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *fakeBus) statuses() []model.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Status, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Status
	}
	return out
}
