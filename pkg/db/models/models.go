package models

// All returns every model for schema automigration in dev and tests.
func All() []any {
	return []any{
		&Item{},
		&Resource{},
		&Reservation{},
		&MaterialReservationLine{},
		&ResourceReservationLine{},
	}
}
