package enums

import (
	"fmt"
	"strings"
)

// ReservationType declares which line collections a reservation carries.
type ReservationType string

const (
	ReservationTypeMaterial ReservationType = "material"
	ReservationTypeResource ReservationType = "resource"
	ReservationTypeBoth     ReservationType = "both"
)

var validReservationTypes = []ReservationType{
	ReservationTypeMaterial,
	ReservationTypeResource,
	ReservationTypeBoth,
}

// String implements fmt.Stringer.
func (t ReservationType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known ReservationType.
func (t ReservationType) IsValid() bool {
	for _, candidate := range validReservationTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// RequiresMaterials reports whether the material line collection must be non-empty.
func (t ReservationType) RequiresMaterials() bool {
	return t == ReservationTypeMaterial || t == ReservationTypeBoth
}

// RequiresResources reports whether the resource line collection must be non-empty.
func (t ReservationType) RequiresResources() bool {
	return t == ReservationTypeResource || t == ReservationTypeBoth
}

// ParseReservationType converts raw input into a ReservationType.
func ParseReservationType(value string) (ReservationType, error) {
	for _, candidate := range validReservationTypes {
		if strings.EqualFold(string(candidate), value) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reservation type %q", value)
}
