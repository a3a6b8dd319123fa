package enums

import (
	"fmt"
	"strings"
)

// ReservationStatus tracks the lifecycle of a reservation.
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusActive    ReservationStatus = "active"
	ReservationStatusCompleted ReservationStatus = "completed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
	ReservationStatusExpired   ReservationStatus = "expired"
)

var validReservationStatuses = []ReservationStatus{
	ReservationStatusPending,
	ReservationStatusConfirmed,
	ReservationStatusActive,
	ReservationStatusCompleted,
	ReservationStatusCancelled,
	ReservationStatusExpired,
}

// reservationTransitions is the closed transition table. A status maps to the
// set of statuses it may move to; anything absent is disallowed.
var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationStatusPending:   {ReservationStatusConfirmed, ReservationStatusCancelled, ReservationStatusExpired},
	ReservationStatusConfirmed: {ReservationStatusActive, ReservationStatusCancelled, ReservationStatusCompleted},
	ReservationStatusActive:    {ReservationStatusCompleted, ReservationStatusCancelled},
	ReservationStatusCompleted: {},
	ReservationStatusCancelled: {},
	ReservationStatusExpired:   {},
}

// String implements fmt.Stringer.
func (s ReservationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReservationStatus.
func (s ReservationStatus) IsValid() bool {
	for _, candidate := range validReservationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s ReservationStatus) IsTerminal() bool {
	targets, ok := reservationTransitions[s]
	return ok && len(targets) == 0
}

// CanTransitionTo reports whether the transition table allows moving to next.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	for _, candidate := range reservationTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Committed reports whether reservations in this status hold interval index
// entries. Only confirmed and active reservations contribute committed demand.
func (s ReservationStatus) Committed() bool {
	return s == ReservationStatusConfirmed || s == ReservationStatusActive
}

// ParseReservationStatus converts raw input into a ReservationStatus.
func ParseReservationStatus(value string) (ReservationStatus, error) {
	for _, candidate := range validReservationStatuses {
		if strings.EqualFold(string(candidate), value) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reservation status %q", value)
}
