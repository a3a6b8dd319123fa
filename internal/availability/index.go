package availability

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/planwright/planwright-backend/pkg/enums"
	"github.com/planwright/planwright-backend/pkg/types"
	"github.com/shopspring/decimal"
)

// EntityKey identifies one item or resource in the interval index.
type EntityKey struct {
	Type enums.EntityType
	ID   uuid.UUID
}

// ItemKey builds the index key for an item.
func ItemKey(id uuid.UUID) EntityKey {
	return EntityKey{Type: enums.EntityTypeItem, ID: id}
}

// ResourceKey builds the index key for a resource.
func ResourceKey(id uuid.UUID) EntityKey {
	return EntityKey{Type: enums.EntityTypeResource, ID: id}
}

// String renders the key in "type:id" form, used for ordered lock acquisition.
func (k EntityKey) String() string {
	return string(k.Type) + ":" + k.ID.String()
}

// LineRef describes one committed line returned by overlap queries.
type LineRef struct {
	LineID        uuid.UUID
	ReservationID uuid.UUID
	Window        types.Window
	Amount        decimal.Decimal
}

// Entry is a committed line as stored in the index, used for bulk rebuilds.
type Entry struct {
	Key           EntityKey
	LineID        uuid.UUID
	ReservationID uuid.UUID
	Window        types.Window
	Amount        decimal.Decimal
}

// Index tracks committed demand intervals per entity. It is a derived,
// rebuildable cache over confirmed/active reservation lines; the reservation
// manager's lock discipline guards every mutation, the internal mutex only
// keeps concurrent readers safe against an in-flight write.
type Index struct {
	mu       sync.RWMutex
	byEntity map[EntityKey][]indexEntry
}

type indexEntry struct {
	lineID        uuid.UUID
	reservationID uuid.UUID
	window        types.Window
	amount        decimal.Decimal
}

// NewIndex builds an empty interval index.
func NewIndex() *Index {
	return &Index{byEntity: make(map[EntityKey][]indexEntry)}
}

// Insert adds a committed line under the entity key. Inserting the same line
// twice is idempotent with last-write-wins on window and amount.
func (i *Index) Insert(key EntityKey, lineID, reservationID uuid.UUID, window types.Window, amount decimal.Decimal) {
	i.mu.Lock()
	defer i.mu.Unlock()

	entries := i.byEntity[key]
	for idx, entry := range entries {
		if entry.lineID == lineID {
			entries[idx] = indexEntry{lineID: lineID, reservationID: reservationID, window: window, amount: amount}
			i.resort(key, entries)
			return
		}
	}
	entries = append(entries, indexEntry{lineID: lineID, reservationID: reservationID, window: window, amount: amount})
	i.resort(key, entries)
}

// Remove deletes a committed line. It is a no-op when the line is absent.
func (i *Index) Remove(key EntityKey, lineID uuid.UUID) {
	i.mu.Lock()
	defer i.mu.Unlock()

	entries := i.byEntity[key]
	for idx, entry := range entries {
		if entry.lineID == lineID {
			entries = append(entries[:idx], entries[idx+1:]...)
			if len(entries) == 0 {
				delete(i.byEntity, key)
			} else {
				i.byEntity[key] = entries
			}
			return
		}
	}
}

// SumOverlapping returns the total committed amount whose interval intersects
// the window, excluding at most one line (the line being re-checked).
func (i *Index) SumOverlapping(key EntityKey, window types.Window, excludeLineID uuid.UUID) decimal.Decimal {
	i.mu.RLock()
	defer i.mu.RUnlock()

	total := decimal.Zero
	for _, entry := range i.byEntity[key] {
		if !entry.window.Start.Before(window.End) {
			// Entries are sorted by start; nothing later can overlap.
			break
		}
		if entry.lineID == excludeLineID {
			continue
		}
		if entry.window.Overlaps(window) {
			total = total.Add(entry.amount)
		}
	}
	return total
}

// OverlappingLines returns refs for every committed line intersecting the
// window, excluding at most one line. Used for conflict diagnostics.
func (i *Index) OverlappingLines(key EntityKey, window types.Window, excludeLineID uuid.UUID) []LineRef {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var refs []LineRef
	for _, entry := range i.byEntity[key] {
		if !entry.window.Start.Before(window.End) {
			break
		}
		if entry.lineID == excludeLineID {
			continue
		}
		if entry.window.Overlaps(window) {
			refs = append(refs, LineRef{
				LineID:        entry.lineID,
				ReservationID: entry.reservationID,
				Window:        entry.window,
				Amount:        entry.amount,
			})
		}
	}
	return refs
}

// RemoveReservation drops every line committed by the given reservation.
// Returns how many entries were removed.
func (i *Index) RemoveReservation(reservationID uuid.UUID) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	removed := 0
	for key, entries := range i.byEntity {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.reservationID == reservationID {
				removed++
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(i.byEntity, key)
		} else {
			i.byEntity[key] = kept
		}
	}
	return removed
}

// Rebuild replaces the whole index with the given entries. Used on startup to
// reconstruct committed demand from persisted confirmed/active reservations.
func (i *Index) Rebuild(entries []Entry) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.byEntity = make(map[EntityKey][]indexEntry, len(entries))
	for _, e := range entries {
		i.byEntity[e.Key] = append(i.byEntity[e.Key], indexEntry{
			lineID:        e.LineID,
			reservationID: e.ReservationID,
			window:        e.Window,
			amount:        e.Amount,
		})
	}
	for key, list := range i.byEntity {
		i.resort(key, list)
	}
}

// Len reports the number of committed lines held for the entity.
func (i *Index) Len(key EntityKey) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.byEntity[key])
}

func (i *Index) resort(key EntityKey, entries []indexEntry) {
	sort.Slice(entries, func(a, b int) bool {
		return entries[a].window.Start.Before(entries[b].window.Start)
	})
	i.byEntity[key] = entries
}
