package model

import (
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes parcel deliveries from passenger rides. The two
// share one lifecycle and one table; only validation differs.
type Kind string

const (
	KindDelivery Kind = "delivery"
	KindRide     Kind = "ride"
)

func (k Kind) Valid() bool {
	return k == KindDelivery || k == KindRide
}

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusDriverAssigned Status = "DRIVER_ASSIGNED"
	StatusPickedUp       Status = "PICKED_UP"
	StatusInTransit      Status = "IN_TRANSIT"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
)

// Terminal reports whether no further transition is legal.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransitionTo encodes the allowed transition graph. IN_TRANSIT is
// only entered implicitly via a location update, and DELIVERED is
// reachable from both PICKED_UP and IN_TRANSIT: a courier may hand the
// parcel over without ever having reported an intermediate position.
func (s Status) CanTransitionTo(next Status) bool {
	switch next {
	case StatusDriverAssigned:
		return s == StatusPending
	case StatusPickedUp:
		return s == StatusDriverAssigned
	case StatusInTransit:
		return s == StatusPickedUp
	case StatusDelivered:
		return s == StatusPickedUp || s == StatusInTransit
	case StatusCancelled:
		return !s.Terminal()
	default:
		return false
	}
}

// Location is an address plus coordinates.
type Location struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Request is one delivery or ride. DriverID stays nil until a driver
// accepts and is set exactly once; reassignment requires cancelling
// and creating a new request.
type Request struct {
	ID             uuid.UUID  `json:"id"`
	Kind           Kind       `json:"kind"`
	RequesterID    uuid.UUID  `json:"requester_id"`
	DriverID       *uuid.UUID `json:"driver_id,omitempty"`
	Status         Status     `json:"status"`
	Pickup         Location   `json:"pickup"`
	Dropoff        Location   `json:"dropoff"`
	WeightGrams    int64      `json:"weight_grams,omitempty"`
	CompletionCode string     `json:"-"`
	EstimatedFare  int64      `json:"estimated_fare"`
	ActualFare     *int64     `json:"actual_fare,omitempty"`
	CancelReason   string     `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	PickedUpAt     *time.Time `json:"picked_up_at,omitempty"`
	InTransitAt    *time.Time `json:"in_transit_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
}

// Position is one tracked point while the request is in transit.
type Position struct {
	RequestID  uuid.UUID `json:"request_id"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	RecordedAt time.Time `json:"recorded_at"`
}
