package reservations

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// newReservationNumber produces the human-readable identifier shown in the
// planning UI, e.g. RSV-20260901-3F7A2C1B. Uniqueness is enforced by the
// database; the random suffix makes collisions within a day negligible.
func newReservationNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("RSV-%s-%s", now.UTC().Format("20060102"), suffix)
}
