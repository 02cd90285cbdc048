package model

import "testing"

func TestStatusTransitionTable(t *testing.T) {
	all := []Status{
		StatusPending, StatusDriverAssigned, StatusPickedUp,
		StatusInTransit, StatusDelivered, StatusCancelled,
	}
	allowed := map[Status][]Status{
		StatusPending:        {StatusDriverAssigned, StatusCancelled},
		StatusDriverAssigned: {StatusPickedUp, StatusCancelled},
		StatusPickedUp:       {StatusInTransit, StatusDelivered, StatusCancelled},
		StatusInTransit:      {StatusDelivered, StatusCancelled},
		StatusDelivered:      {},
		StatusCancelled:      {},
	}

	for _, from := range all {
		legal := make(map[Status]bool)
		for _, to := range allowed[from] {
			legal[to] = true
		}
		for _, to := range all {
			if got := from.CanTransitionTo(to); got != legal[to] {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, legal[to])
			}
		}
		if from.CanTransitionTo(Status("UNKNOWN")) {
			t.Errorf("%s must not transition to an unknown status", from)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusDriverAssigned, StatusPickedUp, StatusInTransit} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
	for _, s := range []Status{StatusDelivered, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

func TestKindValid(t *testing.T) {
	if !KindDelivery.Valid() || !KindRide.Valid() {
		t.Fatal("built-in kinds must be valid")
	}
	if Kind("teleport").Valid() || Kind("").Valid() {
		t.Fatal("unknown kinds must be invalid")
	}
}
