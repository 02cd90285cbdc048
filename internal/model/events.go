package model

import (
	"time"

	"github.com/google/uuid"
)

// SubjectRequestStatus is the bus subject for lifecycle transitions.
const SubjectRequestStatus = "requests.status"

// StatusEvent is published after every committed lifecycle transition.
// Delivery is fire-and-forget: a lost event never rolls back the
// transition it describes.
type StatusEvent struct {
	RequestID   uuid.UUID  `json:"request_id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	RequesterID uuid.UUID  `json:"requester_id"`
	DriverID    *uuid.UUID `json:"driver_id,omitempty"`
	Fare        int64      `json:"fare,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}
