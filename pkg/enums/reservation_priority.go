package enums

import (
	"fmt"
	"strings"
)

// ReservationPriority orders conflict-resolution suggestions. It is advisory
// only and never bypasses availability or capacity limits.
type ReservationPriority string

const (
	ReservationPriorityCritical ReservationPriority = "critical"
	ReservationPriorityHigh     ReservationPriority = "high"
	ReservationPriorityMedium   ReservationPriority = "medium"
	ReservationPriorityLow      ReservationPriority = "low"
)

var validReservationPriorities = []ReservationPriority{
	ReservationPriorityCritical,
	ReservationPriorityHigh,
	ReservationPriorityMedium,
	ReservationPriorityLow,
}

var priorityRank = map[ReservationPriority]int{
	ReservationPriorityCritical: 0,
	ReservationPriorityHigh:     1,
	ReservationPriorityMedium:   2,
	ReservationPriorityLow:      3,
}

// String implements fmt.Stringer.
func (p ReservationPriority) String() string {
	return string(p)
}

// IsValid reports whether the value is a known ReservationPriority.
func (p ReservationPriority) IsValid() bool {
	for _, candidate := range validReservationPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// Rank returns the sort rank, lower meaning more urgent. Unknown priorities
// sort last.
func (p ReservationPriority) Rank() int {
	if rank, ok := priorityRank[p]; ok {
		return rank
	}
	return len(priorityRank)
}

// ParseReservationPriority converts raw input into a ReservationPriority.
func ParseReservationPriority(value string) (ReservationPriority, error) {
	for _, candidate := range validReservationPriorities {
		if strings.EqualFold(string(candidate), value) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reservation priority %q", value)
}
