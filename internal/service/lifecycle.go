package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/ridewell/ridewell/internal/model"
	"github.com/ridewell/ridewell/internal/pricing"
	"github.com/ridewell/ridewell/internal/repository"
)

// MessageBus publishes status events after commit. Delivery is
// fire-and-forget; a publish failure never rolls back a transition.
type MessageBus interface {
	Publish(subject string, data []byte) error
}

// Availability is the matcher surface the lifecycle drives: driver
// presence flips on accept/cancel/deliver, positions flow through on
// location updates. All calls are best effort.
type Availability interface {
	MarkAvailable(ctx context.Context, driverID uuid.UUID) error
	MarkBusy(ctx context.Context, driverID uuid.UUID) error
	UpdatePosition(ctx context.Context, driverID uuid.UUID, lat, lon float64) error
}

// CreateInput carries the requester-supplied details for a new request.
type CreateInput struct {
	Kind        model.Kind     `json:"kind"`
	Pickup      model.Location `json:"pickup"`
	Dropoff     model.Location `json:"dropoff"`
	WeightGrams int64          `json:"weight_grams,omitempty"`
}

// DeliverResult is what the terminal success transition hands back to
// the transport layer.
type DeliverResult struct {
	Request    model.Request          `json:"request"`
	Settlement model.SettlementRecord `json:"settlement"`
}

// Lifecycle owns the request state machine. It validates every action
// against current state with conditional updates, and drives
// settlement at the terminal transition.
type Lifecycle struct {
	store   repository.Store
	matcher Availability
	bus     MessageBus
	pricer  *pricing.Estimator
	log     *zap.Logger
	now     func() time.Time
}

func NewLifecycle(store repository.Store, matcher Availability, bus MessageBus, log *zap.Logger) *Lifecycle {
	return &Lifecycle{
		store:   store,
		matcher: matcher,
		bus:     bus,
		pricer:  pricing.NewEstimator(),
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the details, prices the trip, generates the
// completion code, and stores the request as PENDING. Wallet balance
// is not checked here; only settlement enforces funds.
func (l *Lifecycle) Create(ctx context.Context, requesterID uuid.UUID, in CreateInput) (model.Request, error) {
	if !in.Kind.Valid() {
		return model.Request{}, fmt.Errorf("%w: unknown kind %q", model.ErrValidation, in.Kind)
	}
	if err := validateLocation(in.Pickup); err != nil {
		return model.Request{}, err
	}
	if err := validateLocation(in.Dropoff); err != nil {
		return model.Request{}, err
	}
	if in.Kind == model.KindDelivery && in.WeightGrams <= 0 {
		return model.Request{}, fmt.Errorf("%w: weight must be positive", model.ErrValidation)
	}

	if _, err := l.store.Q().GetUser(ctx, requesterID); err != nil {
		return model.Request{}, err
	}

	req := model.Request{
		ID:             uuid.New(),
		Kind:           in.Kind,
		RequesterID:    requesterID,
		Status:         model.StatusPending,
		Pickup:         in.Pickup,
		Dropoff:        in.Dropoff,
		WeightGrams:    in.WeightGrams,
		CompletionCode: model.NewCompletionCode(),
		EstimatedFare:  l.pricer.Estimate(in.Kind, in.Pickup, in.Dropoff),
		CreatedAt:      l.now(),
	}
	if err := l.store.Q().InsertRequest(ctx, req); err != nil {
		return model.Request{}, err
	}

	l.publish(statusEvent(req, ""))
	return req, nil
}

// Accept assigns the driver via a single conditional update. When two
// drivers race, the statement that still sees PENDING wins; the loser
// gets ErrAlreadyAssigned.
func (l *Lifecycle) Accept(ctx context.Context, requestID, driverID uuid.UUID) (model.Request, error) {
	ok, err := l.store.Q().AcceptRequest(ctx, requestID, driverID, l.now())
	if err != nil {
		return model.Request{}, err
	}
	if !ok {
		// Re-read to tell a missing request from a lost race from a
		// request that already reached a terminal state.
		cur, err := l.store.Q().GetRequest(ctx, requestID)
		if err != nil {
			return model.Request{}, err
		}
		if cur.Status.Terminal() {
			return model.Request{}, fmt.Errorf("%w: cannot accept from %s", model.ErrInvalidTransition, cur.Status)
		}
		return model.Request{}, fmt.Errorf("%w: request %s", model.ErrAlreadyAssigned, requestID)
	}

	if err := l.matcher.MarkBusy(ctx, driverID); err != nil {
		l.log.Warn("failed to mark driver busy", zap.Error(err), zap.String("driver_id", driverID.String()))
	}

	req, err := l.store.Q().GetRequest(ctx, requestID)
	if err != nil {
		return model.Request{}, err
	}
	l.publish(statusEvent(req, ""))
	return req, nil
}

// MarkPickedUp is legal only from DRIVER_ASSIGNED and only by the
// assigned driver.
func (l *Lifecycle) MarkPickedUp(ctx context.Context, requestID, driverID uuid.UUID) (model.Request, error) {
	ok, err := l.store.Q().MarkPickedUp(ctx, requestID, driverID, l.now())
	if err != nil {
		return model.Request{}, err
	}
	if !ok {
		req, err := l.store.Q().GetRequest(ctx, requestID)
		if err != nil {
			return model.Request{}, err
		}
		if req.DriverID == nil || *req.DriverID != driverID {
			return model.Request{}, fmt.Errorf("%w: not the assigned driver", model.ErrNotAuthorized)
		}
		return model.Request{}, fmt.Errorf("%w: cannot pick up from %s", model.ErrInvalidTransition, req.Status)
	}

	req, err := l.store.Q().GetRequest(ctx, requestID)
	if err != nil {
		return model.Request{}, err
	}
	l.publish(statusEvent(req, ""))
	return req, nil
}

// UpdateLocation records a position while the request is PICKED_UP or
// IN_TRANSIT. The first update after pickup flips the status to
// IN_TRANSIT as a side effect; there is no explicit client action for
// that transition.
func (l *Lifecycle) UpdateLocation(ctx context.Context, requestID, driverID uuid.UUID, lat, lon float64) (model.Request, error) {
	if err := validateCoords(lat, lon); err != nil {
		return model.Request{}, err
	}

	var (
		req      model.Request
		advanced bool
	)
	err := l.store.WithTx(ctx, func(q repository.Queries) error {
		var err error
		req, err = q.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.DriverID == nil || *req.DriverID != driverID {
			return fmt.Errorf("%w: not the assigned driver", model.ErrNotAuthorized)
		}
		if req.Status != model.StatusPickedUp && req.Status != model.StatusInTransit {
			return fmt.Errorf("%w: cannot track from %s", model.ErrInvalidTransition, req.Status)
		}

		now := l.now()
		if err := q.RecordPosition(ctx, model.Position{
			RequestID: requestID, Lat: lat, Lon: lon, RecordedAt: now,
		}); err != nil {
			return err
		}
		if req.Status == model.StatusPickedUp {
			if advanced, err = q.AdvanceToInTransit(ctx, requestID, now); err != nil {
				return err
			}
			if advanced {
				req.Status = model.StatusInTransit
				req.InTransitAt = &now
			}
		}
		return nil
	})
	if err != nil {
		return model.Request{}, err
	}

	if err := l.matcher.UpdatePosition(ctx, driverID, lat, lon); err != nil {
		l.log.Warn("failed to update driver position", zap.Error(err), zap.String("driver_id", driverID.String()))
	}
	if advanced {
		l.publish(statusEvent(req, ""))
	}
	return req, nil
}

// Deliver is the terminal success transition. The code check, the
// debit+credit pair, the settlement record, and the status write all
// commit in one transaction: a settlement failure rolls back the
// transition and the status stays exactly where it was. Transient
// serialization conflicts are retried; the settlement record keyed by
// request id keeps the retry from charging twice.
func (l *Lifecycle) Deliver(ctx context.Context, requestID, driverID uuid.UUID, suppliedCode string) (DeliverResult, error) {
	var res DeliverResult

	backoff := retry.WithMaxRetries(3, retry.NewExponential(10*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := l.deliverOnce(ctx, requestID, driverID, suppliedCode, &res)
		if repository.IsSerializationFailure(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return DeliverResult{}, err
	}

	if err := l.matcher.MarkAvailable(ctx, driverID); err != nil {
		l.log.Warn("failed to mark driver available", zap.Error(err), zap.String("driver_id", driverID.String()))
	}
	l.publish(statusEvent(res.Request, ""))
	l.log.Info("request delivered",
		zap.String("request_id", requestID.String()),
		zap.Int64("fare", res.Settlement.Amount))
	return res, nil
}

func (l *Lifecycle) deliverOnce(ctx context.Context, requestID, driverID uuid.UUID, suppliedCode string, res *DeliverResult) error {
	return l.store.WithTx(ctx, func(q repository.Queries) error {
		req, err := q.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.DriverID == nil || *req.DriverID != driverID {
			return fmt.Errorf("%w: not the assigned driver", model.ErrNotAuthorized)
		}

		// A retried deliver that already committed is answered from the
		// settlement record instead of failing or charging again.
		if req.Status == model.StatusDelivered {
			rec, err := q.GetSettlementByRequest(ctx, requestID)
			if err != nil {
				return err
			}
			res.Request, res.Settlement = req, rec
			return nil
		}
		if req.Status != model.StatusPickedUp && req.Status != model.StatusInTransit {
			return fmt.Errorf("%w: cannot deliver from %s", model.ErrInvalidTransition, req.Status)
		}
		if suppliedCode != req.CompletionCode {
			return model.ErrInvalidCode
		}

		payer, err := q.GetAccountByUser(ctx, req.RequesterID)
		if err != nil {
			return err
		}
		payee, err := q.GetAccountByUser(ctx, driverID)
		if err != nil {
			return err
		}

		fare := req.EstimatedFare
		rec, _, err := settleTx(ctx, q, requestID, payer.ID, payee.ID, fare)
		if err != nil {
			if errors.Is(err, model.ErrInsufficientFunds) {
				return fmt.Errorf("%w: %w", model.ErrSettlementFailed, err)
			}
			return err
		}

		ok, err := q.CompleteRequest(ctx, requestID, fare, l.now())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: request changed state during delivery", model.ErrInvalidTransition)
		}

		req, err = q.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		res.Request, res.Settlement = req, rec
		return nil
	})
}

// Cancel is legal from any non-terminal state, by the requester, the
// assigned driver, or an admin. When accept and cancel race, whichever
// conditional update commits first wins and the loser sees the changed
// status.
func (l *Lifecycle) Cancel(ctx context.Context, requestID, actorID uuid.UUID, role model.Role, reason string) (model.Request, error) {
	req, err := l.store.Q().GetRequest(ctx, requestID)
	if err != nil {
		return model.Request{}, err
	}
	authorized := role == model.RoleAdmin ||
		req.RequesterID == actorID ||
		(req.DriverID != nil && *req.DriverID == actorID)
	if !authorized {
		return model.Request{}, fmt.Errorf("%w: cannot cancel another user's request", model.ErrNotAuthorized)
	}

	ok, err := l.store.Q().CancelRequest(ctx, requestID, reason, l.now())
	if err != nil {
		return model.Request{}, err
	}
	if !ok {
		req, err := l.store.Q().GetRequest(ctx, requestID)
		if err != nil {
			return model.Request{}, err
		}
		return model.Request{}, fmt.Errorf("%w: cannot cancel from %s", model.ErrInvalidTransition, req.Status)
	}

	req, err = l.store.Q().GetRequest(ctx, requestID)
	if err != nil {
		return model.Request{}, err
	}
	if req.DriverID != nil {
		if err := l.matcher.MarkAvailable(ctx, *req.DriverID); err != nil {
			l.log.Warn("failed to free driver after cancel", zap.Error(err), zap.String("driver_id", req.DriverID.String()))
		}
	}
	l.publish(statusEvent(req, reason))
	return req, nil
}

// Get returns one request.
func (l *Lifecycle) Get(ctx context.Context, requestID uuid.UUID) (model.Request, error) {
	return l.store.Q().GetRequest(ctx, requestID)
}

// Positions returns tracked points, newest first.
func (l *Lifecycle) Positions(ctx context.Context, requestID uuid.UUID, limit int) ([]model.Position, error) {
	if _, err := l.store.Q().GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return l.store.Q().ListPositions(ctx, requestID, limit)
}

func (l *Lifecycle) publish(ev model.StatusEvent) {
	if l.bus == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := l.bus.Publish(model.SubjectRequestStatus, data); err != nil {
		l.log.Warn("status event publish failed",
			zap.Error(err),
			zap.String("request_id", ev.RequestID.String()),
			zap.String("status", string(ev.Status)))
	}
}

func statusEvent(req model.Request, reason string) model.StatusEvent {
	ev := model.StatusEvent{
		RequestID:   req.ID,
		Kind:        req.Kind,
		Status:      req.Status,
		RequesterID: req.RequesterID,
		DriverID:    req.DriverID,
		Reason:      reason,
		OccurredAt:  time.Now().UTC(),
	}
	if req.ActualFare != nil {
		ev.Fare = *req.ActualFare
	}
	return ev
}

func validateLocation(loc model.Location) error {
	if loc.Address == "" {
		return fmt.Errorf("%w: address is required", model.ErrValidation)
	}
	return validateCoords(loc.Lat, loc.Lon)
}

func validateCoords(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: coordinates out of range", model.ErrValidation)
	}
	return nil
}
