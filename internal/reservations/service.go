package reservations

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/planwright/planwright-backend/internal/availability"
	"github.com/planwright/planwright-backend/internal/catalog"
	"github.com/planwright/planwright-backend/pkg/db/models"
	"github.com/planwright/planwright-backend/pkg/enums"
	pkgerrors "github.com/planwright/planwright-backend/pkg/errors"
	"github.com/planwright/planwright-backend/pkg/logger"
	"github.com/planwright/planwright-backend/pkg/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the reservation manager: it owns the lifecycle state machine and
// the atomic check-then-commit step against the interval index.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*Detail, error)
	Get(ctx context.Context, id uuid.UUID) (*Detail, error)
	List(ctx context.Context, filters ListFilters) ([]Detail, error)
	Confirm(ctx context.Context, id uuid.UUID) (*Detail, error)
	Cancel(ctx context.Context, id uuid.UUID, reason *string) (*Detail, error)
	Complete(ctx context.Context, id uuid.UUID) (*Detail, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, input UpdateMetadataInput) (*Detail, error)

	CheckMaterialAvailability(ctx context.Context, itemID uuid.UUID, window types.Window, required decimal.Decimal) (availability.MaterialCheck, error)
	CheckResourceAvailability(ctx context.Context, resourceID uuid.UUID, window types.Window, required decimal.Decimal) (availability.ResourceCheck, []uuid.UUID, error)

	RebuildIndex(ctx context.Context) (int, error)

	ExpireStalePending(ctx context.Context, holdTimeout time.Duration) (int, error)
	ActivateDueConfirmed(ctx context.Context) (int, error)
	CompleteDueActive(ctx context.Context) (int, error)
}

// ServiceParams wires the reservation manager's collaborators.
type ServiceParams struct {
	Repo    Repository
	Tx      txRunner
	Index   *availability.Index
	Checker *availability.Checker
	Catalog catalog.Repository
	Locks   *EntityLocks
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	index   *availability.Index
	checker *availability.Checker
	catalog catalog.Repository
	locks   *EntityLocks
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds the reservation manager.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reservations repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Index == nil {
		return nil, fmt.Errorf("interval index required")
	}
	if params.Checker == nil {
		return nil, fmt.Errorf("availability checker required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	locks := params.Locks
	if locks == nil {
		locks = NewEntityLocks()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		index:   params.Index,
		checker: params.Checker,
		catalog: params.Catalog,
		locks:   locks,
		logg:    params.Logger,
		now:     now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*Detail, error) {
	if err := s.validateCreate(ctx, &input); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	reservation := &models.Reservation{
		ID:                uuid.New(),
		ReservationNumber: newReservationNumber(now),
		Type:              input.Type,
		Status:            enums.ReservationStatusPending,
		Priority:          input.Priority,
		OrderNumber:       input.OrderNumber,
		Description:       input.Description,
		Notes:             input.Notes,
		StartDate:         input.StartDate.UTC(),
		EndDate:           input.EndDate.UTC(),
	}
	for _, line := range input.Materials {
		uom := line.UnitOfMeasure
		if uom == "" {
			uom = "EA"
		}
		reservation.MaterialLines = append(reservation.MaterialLines, models.MaterialReservationLine{
			ID:               uuid.New(),
			ReservationID:    reservation.ID,
			ItemID:           line.ItemID,
			RequiredQuantity: line.RequiredQuantity.Round(availability.QuantityScale),
			ReservedQuantity: decimal.Zero,
			UnitOfMeasure:    uom,
		})
	}
	for _, line := range input.Resources {
		start, end := line.StartTime, line.EndTime
		if start.IsZero() && end.IsZero() {
			start, end = reservation.StartDate, reservation.EndDate
		}
		reservation.ResourceLines = append(reservation.ResourceLines, models.ResourceReservationLine{
			ID:               uuid.New(),
			ReservationID:    reservation.ID,
			ResourceID:       line.ResourceID,
			StartTime:        start.UTC(),
			EndTime:          end.UTC(),
			RequiredCapacity: line.RequiredCapacity.Round(availability.QuantityScale),
		})
	}

	// Creation never touches the index: pending is a soft hold.
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, reservation)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist reservation")
	}

	logCtx := s.logg.WithReservationID(ctx, reservation.ID.String())
	s.logg.Info(logCtx, "reservation created")
	return s.buildDetail(ctx, reservation)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	reservation, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.buildDetail(ctx, reservation)
}

func (s *service) List(ctx context.Context, filters ListFilters) ([]Detail, error) {
	reservations, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}
	details := make([]Detail, 0, len(reservations))
	for idx := range reservations {
		detail, err := s.buildDetail(ctx, &reservations[idx])
		if err != nil {
			return nil, err
		}
		details = append(details, *detail)
	}
	return details, nil
}

// Confirm runs the atomic check-then-commit step. Catalog snapshots are
// fetched before the entity locks; inside the locks only index reads, the
// status transaction, and index writes happen.
func (s *service) Confirm(ctx context.Context, id uuid.UUID) (*Detail, error) {
	reservation, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := confirmGuard(reservation.Status); err != nil {
		return nil, err
	}

	onHand, maxCapacity, err := s.fetchSnapshots(ctx, reservation)
	if err != nil {
		return nil, err
	}

	release := s.locks.Acquire(entityLockKeys(reservation))

	// Re-read under the locks: a racing cancel or expiry may have moved the
	// reservation to a terminal status since the pre-lock read.
	reservation, err = s.repo.Find(ctx, id)
	if err != nil {
		release()
		return nil, err
	}
	if err := confirmGuard(reservation.Status); err != nil {
		release()
		return nil, err
	}

	parentWindow := types.Window{Start: reservation.StartDate, End: reservation.EndDate}

	failures := s.checkAllLines(reservation, parentWindow, onHand, maxCapacity)
	if len(failures) > 0 {
		release()
		return nil, s.conflictError(ctx, failures)
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.UpdateReservation(ctx, reservation.ID, map[string]any{
			"status":     enums.ReservationStatusConfirmed,
			"updated_at": s.now().UTC(),
		}); err != nil {
			return err
		}
		for _, line := range reservation.MaterialLines {
			if err := txRepo.UpdateMaterialLineReserved(ctx, line.ID, line.RequiredQuantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		release()
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "commit reservation")
	}

	s.commitToIndex(reservation, parentWindow)
	release()

	reservation.Status = enums.ReservationStatusConfirmed
	for idx := range reservation.MaterialLines {
		reservation.MaterialLines[idx].ReservedQuantity = reservation.MaterialLines[idx].RequiredQuantity
	}

	logCtx := s.logg.WithReservationID(ctx, reservation.ID.String())
	s.logg.Info(logCtx, "reservation confirmed")
	return s.buildDetail(ctx, reservation)
}

// Cancel is idempotent: cancelling an already-terminal reservation returns
// the current state without touching the index.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, reason *string) (*Detail, error) {
	reservation, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	release := s.locks.Acquire(entityLockKeys(reservation))
	defer release()

	// Re-read under the locks: the status decides both the guard and whether
	// an index entry must be released, and a racing confirm can change it.
	reservation, err = s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	switch reservation.Status {
	case enums.ReservationStatusCancelled, enums.ReservationStatusExpired:
		return s.buildDetail(ctx, reservation)
	case enums.ReservationStatusCompleted:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cannot cancel a completed reservation").
			WithDetails(map[string]any{"status": reservation.Status})
	}

	wasCommitted := reservation.Status.Committed()

	updates := map[string]any{
		"status":     enums.ReservationStatusCancelled,
		"updated_at": s.now().UTC(),
	}
	if reason != nil {
		updates["cancel_reason"] = *reason
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).UpdateReservation(ctx, reservation.ID, updates)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel reservation")
	}

	if wasCommitted {
		s.index.RemoveReservation(reservation.ID)
	}

	reservation.Status = enums.ReservationStatusCancelled
	reservation.CancelReason = reason

	logCtx := s.logg.WithReservationID(ctx, reservation.ID.String())
	s.logg.Info(logCtx, "reservation cancelled")
	return s.buildDetail(ctx, reservation)
}

// Complete explicitly finishes a confirmed or active reservation and releases
// its committed demand.
func (s *service) Complete(ctx context.Context, id uuid.UUID) (*Detail, error) {
	reservation, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	release := s.locks.Acquire(entityLockKeys(reservation))
	defer release()

	reservation, err = s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}

	if reservation.Status == enums.ReservationStatusCompleted {
		return s.buildDetail(ctx, reservation)
	}
	if !reservation.Status.CanTransitionTo(enums.ReservationStatusCompleted) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot complete a %s reservation", reservation.Status)).
			WithDetails(map[string]any{"status": reservation.Status})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).UpdateReservation(ctx, reservation.ID, map[string]any{
			"status":     enums.ReservationStatusCompleted,
			"updated_at": s.now().UTC(),
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete reservation")
	}

	s.index.RemoveReservation(reservation.ID)
	reservation.Status = enums.ReservationStatusCompleted

	logCtx := s.logg.WithReservationID(ctx, reservation.ID.String())
	s.logg.Info(logCtx, "reservation completed")
	return s.buildDetail(ctx, reservation)
}

func (s *service) UpdateMetadata(ctx context.Context, id uuid.UUID, input UpdateMetadataInput) (*Detail, error) {
	reservation, err := s.repo.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if reservation.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot update a %s reservation", reservation.Status)).
			WithDetails(map[string]any{"status": reservation.Status})
	}

	updates := map[string]any{"updated_at": s.now().UTC()}
	if input.Notes != nil {
		updates["notes"] = *input.Notes
		reservation.Notes = input.Notes
	}
	if input.Priority != nil {
		if !input.Priority.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid priority").
				WithDetails(map[string]any{"priority": *input.Priority})
		}
		updates["priority"] = *input.Priority
		reservation.Priority = *input.Priority
	}
	if len(updates) == 1 {
		return s.buildDetail(ctx, reservation)
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).UpdateReservation(ctx, reservation.ID, updates)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update reservation")
	}
	return s.buildDetail(ctx, reservation)
}

func (s *service) CheckMaterialAvailability(ctx context.Context, itemID uuid.UUID, window types.Window, required decimal.Decimal) (availability.MaterialCheck, error) {
	if err := window.Validate(); err != nil {
		return availability.MaterialCheck{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid window")
	}
	if !required.GreaterThan(decimal.Zero) {
		return availability.MaterialCheck{}, pkgerrors.New(pkgerrors.CodeValidation, "required quantity must be positive")
	}
	return s.checker.CheckMaterial(ctx, itemID, window, required, uuid.Nil)
}

func (s *service) CheckResourceAvailability(ctx context.Context, resourceID uuid.UUID, window types.Window, required decimal.Decimal) (availability.ResourceCheck, []uuid.UUID, error) {
	if err := window.Validate(); err != nil {
		return availability.ResourceCheck{}, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid window")
	}
	if !required.GreaterThan(decimal.Zero) {
		return availability.ResourceCheck{}, nil, pkgerrors.New(pkgerrors.CodeValidation, "required capacity must be positive")
	}
	check, err := s.checker.CheckResource(ctx, resourceID, window, required, uuid.Nil)
	if err != nil {
		return availability.ResourceCheck{}, nil, err
	}
	conflicting := make([]uuid.UUID, 0, len(check.ConflictingLines))
	for _, ref := range check.ConflictingLines {
		conflicting = append(conflicting, ref.LineID)
	}
	return check, conflicting, nil
}

// RebuildIndex reconstructs the interval index from persisted confirmed and
// active reservations. Called once on startup; the index is a derived cache.
func (s *service) RebuildIndex(ctx context.Context) (int, error) {
	reservations, err := s.repo.FindCommitted(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load committed reservations")
	}

	var entries []availability.Entry
	for idx := range reservations {
		reservation := &reservations[idx]
		parentWindow := types.Window{Start: reservation.StartDate, End: reservation.EndDate}
		for _, line := range reservation.MaterialLines {
			entries = append(entries, availability.Entry{
				Key:           availability.ItemKey(line.ItemID),
				LineID:        line.ID,
				ReservationID: reservation.ID,
				Window:        parentWindow,
				Amount:        line.ReservedQuantity,
			})
		}
		for _, line := range reservation.ResourceLines {
			entries = append(entries, availability.Entry{
				Key:           availability.ResourceKey(line.ResourceID),
				LineID:        line.ID,
				ReservationID: reservation.ID,
				Window:        types.Window{Start: line.StartTime, End: line.EndTime},
				Amount:        line.RequiredCapacity,
			})
		}
	}
	s.index.Rebuild(entries)

	logCtx := s.logg.WithField(ctx, "entries", len(entries))
	s.logg.Info(logCtx, "interval index rebuilt")
	return len(entries), nil
}

// ExpireStalePending moves pending reservations past the hold timeout to
// expired. Pending reservations hold no index entries, so this is a pure
// status write under the usual lock discipline.
func (s *service) ExpireStalePending(ctx context.Context, holdTimeout time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-holdTimeout)
	stale, err := s.repo.FindPendingCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query stale pending reservations")
	}

	count := 0
	for idx := range stale {
		reservation := &stale[idx]
		if err := s.expireOne(ctx, reservation); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (s *service) expireOne(ctx context.Context, reservation *models.Reservation) error {
	release := s.locks.Acquire(entityLockKeys(reservation))
	defer release()

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		current, err := txRepo.Find(ctx, reservation.ID)
		if err != nil {
			return err
		}
		if current.Status != enums.ReservationStatusPending {
			return nil
		}
		return txRepo.UpdateReservation(ctx, reservation.ID, map[string]any{
			"status":     enums.ReservationStatusExpired,
			"updated_at": s.now().UTC(),
		})
	})
}

// ActivateDueConfirmed promotes confirmed reservations whose window has
// started. Pure status write, no index effect, safe to re-run.
func (s *service) ActivateDueConfirmed(ctx context.Context) (int, error) {
	due, err := s.repo.FindConfirmedStartingBy(ctx, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query due confirmed reservations")
	}
	count := 0
	for idx := range due {
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.repo.WithTx(tx).UpdateReservation(ctx, due[idx].ID, map[string]any{
				"status":     enums.ReservationStatusActive,
				"updated_at": s.now().UTC(),
			})
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// CompleteDueActive finishes active reservations whose window has ended and
// releases their committed demand from the index.
func (s *service) CompleteDueActive(ctx context.Context) (int, error) {
	due, err := s.repo.FindActiveEndingBy(ctx, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query due active reservations")
	}
	count := 0
	for idx := range due {
		reservation := &due[idx]
		release := s.locks.Acquire(entityLockKeys(reservation))
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.repo.WithTx(tx).UpdateReservation(ctx, reservation.ID, map[string]any{
				"status":     enums.ReservationStatusCompleted,
				"updated_at": s.now().UTC(),
			})
		})
		if err != nil {
			release()
			return count, err
		}
		s.index.RemoveReservation(reservation.ID)
		release()
		count++
	}
	return count, nil
}

func (s *service) validateCreate(ctx context.Context, input *CreateInput) error {
	details := map[string]string{}

	if !input.Type.IsValid() {
		details["type"] = "must be material, resource, or both"
	}
	if input.Priority == "" {
		input.Priority = enums.ReservationPriorityMedium
	} else if !input.Priority.IsValid() {
		details["priority"] = "must be critical, high, medium, or low"
	}

	parentWindow := types.Window{Start: input.StartDate, End: input.EndDate}
	if err := parentWindow.Validate(); err != nil {
		details["window"] = err.Error()
	}

	if input.Type.RequiresMaterials() && len(input.Materials) == 0 {
		details["materials"] = "at least one material line is required"
	}
	if !input.Type.RequiresMaterials() && len(input.Materials) > 0 {
		details["materials"] = "material lines are not allowed for this reservation type"
	}
	if input.Type.RequiresResources() && len(input.Resources) == 0 {
		details["resources"] = "at least one resource line is required"
	}
	if !input.Type.RequiresResources() && len(input.Resources) > 0 {
		details["resources"] = "resource lines are not allowed for this reservation type"
	}

	for idx, line := range input.Materials {
		if !line.RequiredQuantity.GreaterThan(decimal.Zero) {
			details[fmt.Sprintf("materials[%d].requiredQuantity", idx)] = "must be positive"
		}
	}
	for idx, line := range input.Resources {
		if !line.RequiredCapacity.GreaterThan(decimal.Zero) {
			details[fmt.Sprintf("resources[%d].requiredCapacity", idx)] = "must be positive"
		}
		if line.StartTime.IsZero() != line.EndTime.IsZero() {
			details[fmt.Sprintf("resources[%d].window", idx)] = "startTime and endTime must both be set or both be omitted"
			continue
		}
		if line.StartTime.IsZero() {
			continue
		}
		lineWindow := types.Window{Start: line.StartTime, End: line.EndTime}
		if err := lineWindow.Validate(); err != nil {
			details[fmt.Sprintf("resources[%d].window", idx)] = err.Error()
			continue
		}
		if details["window"] == "" && !parentWindow.Contains(lineWindow) {
			details[fmt.Sprintf("resources[%d].window", idx)] = "must be contained within the reservation window"
		}
	}

	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid reservation request").WithDetails(details)
	}

	// Line-level catalog lookups fail the request before anything persists.
	for _, line := range input.Materials {
		if _, err := s.catalog.FindItem(ctx, line.ItemID); err != nil {
			return asValidation(err, "itemId", line.ItemID)
		}
	}
	for _, line := range input.Resources {
		if _, err := s.catalog.FindResource(ctx, line.ResourceID); err != nil {
			return asValidation(err, "resourceId", line.ResourceID)
		}
	}
	return nil
}

func confirmGuard(status enums.ReservationStatus) error {
	switch status {
	case enums.ReservationStatusPending:
		return nil
	case enums.ReservationStatusExpired, enums.ReservationStatusCancelled:
		return pkgerrors.New(pkgerrors.CodeGone, fmt.Sprintf("reservation is %s", status)).
			WithDetails(map[string]any{"status": status})
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot confirm a %s reservation", status)).
			WithDetails(map[string]any{"status": status})
	}
}

func asValidation(err error, field string, id uuid.UUID) error {
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown %s", field)).
			WithDetails(map[string]any{field: id})
	}
	return err
}

func (s *service) fetchSnapshots(ctx context.Context, reservation *models.Reservation) (map[uuid.UUID]decimal.Decimal, map[uuid.UUID]decimal.Decimal, error) {
	onHand := make(map[uuid.UUID]decimal.Decimal)
	for _, line := range reservation.MaterialLines {
		if _, ok := onHand[line.ItemID]; ok {
			continue
		}
		qty, err := s.catalog.ItemOnHand(ctx, line.ItemID)
		if err != nil {
			return nil, nil, err
		}
		onHand[line.ItemID] = qty
	}
	maxCapacity := make(map[uuid.UUID]decimal.Decimal)
	for _, line := range reservation.ResourceLines {
		if _, ok := maxCapacity[line.ResourceID]; ok {
			continue
		}
		capacity, err := s.catalog.ResourceMaxCapacity(ctx, line.ResourceID)
		if err != nil {
			return nil, nil, err
		}
		maxCapacity[line.ResourceID] = capacity
	}
	return onHand, maxCapacity, nil
}

func (s *service) checkAllLines(reservation *models.Reservation, parentWindow types.Window, onHand, maxCapacity map[uuid.UUID]decimal.Decimal) []LineFailure {
	var failures []LineFailure

	// Sibling lines of this reservation are not in the index yet, so demand
	// already validated in this pass must count against later lines on the
	// same entity.
	siblingDemand := make(map[uuid.UUID]decimal.Decimal)
	for _, line := range reservation.MaterialLines {
		required := line.RequiredQuantity.Add(siblingDemand[line.ItemID])
		check := s.checker.CheckMaterialSnapshot(onHand[line.ItemID], line.ItemID, parentWindow, required, line.ID)
		if check.Available {
			siblingDemand[line.ItemID] = siblingDemand[line.ItemID].Add(line.RequiredQuantity)
			continue
		}
		shortfall := check.Shortfall
		failures = append(failures, LineFailure{
			LineID:     line.ID,
			EntityType: enums.EntityTypeItem,
			EntityID:   line.ItemID,
			Reason:     "insufficient uncommitted stock",
			Shortfall:  &shortfall,
		})
	}

	type siblingSlot struct {
		window   types.Window
		capacity decimal.Decimal
	}
	siblingSlots := make(map[uuid.UUID][]siblingSlot)
	for _, line := range reservation.ResourceLines {
		lineWindow := types.Window{Start: line.StartTime, End: line.EndTime}
		required := line.RequiredCapacity
		for _, slot := range siblingSlots[line.ResourceID] {
			if slot.window.Overlaps(lineWindow) {
				required = required.Add(slot.capacity)
			}
		}
		check := s.checker.CheckResourceSnapshot(maxCapacity[line.ResourceID], line.ResourceID, lineWindow, required, line.ID)
		if check.Available {
			siblingSlots[line.ResourceID] = append(siblingSlots[line.ResourceID], siblingSlot{window: lineWindow, capacity: line.RequiredCapacity})
			continue
		}
		failure := LineFailure{
			LineID:     line.ID,
			EntityType: enums.EntityTypeResource,
			EntityID:   line.ResourceID,
			Reason:     "capacity exceeded on overlapping windows",
		}
		for _, ref := range check.ConflictingLines {
			failure.ConflictingLineIDs = append(failure.ConflictingLineIDs, ref.LineID)
			failure.ConflictingReservationIDs = append(failure.ConflictingReservationIDs, ref.ReservationID)
		}
		failures = append(failures, failure)
	}

	return failures
}

// conflictError shapes the per-line failure report. Conflicting lines are
// re-ordered by the owning reservation's priority so callers negotiate with
// the most urgent holders first; the lookup runs after locks are released.
func (s *service) conflictError(ctx context.Context, failures []LineFailure) error {
	for idx := range failures {
		s.orderConflictsByPriority(ctx, &failures[idx])
	}

	material, resource := false, false
	for _, failure := range failures {
		switch failure.EntityType {
		case enums.EntityTypeItem:
			material = true
		case enums.EntityTypeResource:
			resource = true
		}
	}

	code := pkgerrors.CodeReservationConflict
	message := "one or more lines cannot be committed"
	switch {
	case material && !resource:
		code = pkgerrors.CodeAvailabilityConflict
		message = "insufficient material availability"
	case resource && !material:
		code = pkgerrors.CodeCapacityConflict
		message = "resource capacity exceeded"
	}

	return pkgerrors.New(code, message).WithDetails(map[string]any{"failedLines": failures})
}

func (s *service) orderConflictsByPriority(ctx context.Context, failure *LineFailure) {
	if len(failure.ConflictingReservationIDs) < 2 {
		return
	}

	rank := make(map[uuid.UUID]int, len(failure.ConflictingReservationIDs))
	for _, id := range failure.ConflictingReservationIDs {
		if _, ok := rank[id]; ok {
			continue
		}
		r := enums.ReservationPriorityLow.Rank() + 1
		if reservation, err := s.repo.Find(ctx, id); err == nil {
			r = reservation.Priority.Rank()
		}
		rank[id] = r
	}

	type pair struct {
		lineID        uuid.UUID
		reservationID uuid.UUID
	}
	pairs := make([]pair, len(failure.ConflictingLineIDs))
	for i := range failure.ConflictingLineIDs {
		pairs[i] = pair{lineID: failure.ConflictingLineIDs[i], reservationID: failure.ConflictingReservationIDs[i]}
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		return rank[pairs[a].reservationID] < rank[pairs[b].reservationID]
	})
	for i, p := range pairs {
		failure.ConflictingLineIDs[i] = p.lineID
		failure.ConflictingReservationIDs[i] = p.reservationID
	}
}

func (s *service) commitToIndex(reservation *models.Reservation, parentWindow types.Window) {
	for _, line := range reservation.MaterialLines {
		s.index.Insert(availability.ItemKey(line.ItemID), line.ID, reservation.ID, parentWindow, line.RequiredQuantity)
	}
	for _, line := range reservation.ResourceLines {
		window := types.Window{Start: line.StartTime, End: line.EndTime}
		s.index.Insert(availability.ResourceKey(line.ResourceID), line.ID, reservation.ID, window, line.RequiredCapacity)
	}
}

func entityLockKeys(reservation *models.Reservation) []string {
	keys := make([]string, 0, len(reservation.MaterialLines)+len(reservation.ResourceLines))
	for _, line := range reservation.MaterialLines {
		keys = append(keys, availability.ItemKey(line.ItemID).String())
	}
	for _, line := range reservation.ResourceLines {
		keys = append(keys, availability.ResourceKey(line.ResourceID).String())
	}
	return keys
}

func (s *service) buildDetail(ctx context.Context, reservation *models.Reservation) (*Detail, error) {
	detail := &Detail{
		ID:                reservation.ID,
		ReservationNumber: reservation.ReservationNumber,
		Type:              reservation.Type,
		Status:            reservation.Status,
		Priority:          reservation.Priority,
		OrderNumber:       reservation.OrderNumber,
		Description:       reservation.Description,
		Notes:             reservation.Notes,
		CancelReason:      reservation.CancelReason,
		StartDate:         reservation.StartDate,
		EndDate:           reservation.EndDate,
		Materials:         []MaterialLineView{},
		Resources:         []ResourceLineView{},
		CreatedAt:         reservation.CreatedAt,
		UpdatedAt:         reservation.UpdatedAt,
	}
	parentWindow := types.Window{Start: reservation.StartDate, End: reservation.EndDate}

	for _, line := range reservation.MaterialLines {
		view := MaterialLineView{
			ID:               line.ID,
			ItemID:           line.ItemID,
			RequiredQuantity: line.RequiredQuantity,
			ReservedQuantity: line.ReservedQuantity,
			UnitOfMeasure:    line.UnitOfMeasure,
		}
		if item, err := s.catalog.FindItem(ctx, line.ItemID); err == nil {
			view.ItemNumber = item.ItemNumber
			view.ItemName = item.ItemName
			check := s.checker.CheckMaterialSnapshot(item.OnHandQuantity, line.ItemID, parentWindow, line.RequiredQuantity, line.ID)
			view.IsAvailable = check.Available
		}
		detail.Materials = append(detail.Materials, view)
	}

	for _, line := range reservation.ResourceLines {
		lineWindow := types.Window{Start: line.StartTime, End: line.EndTime}
		view := ResourceLineView{
			ID:               line.ID,
			ResourceID:       line.ResourceID,
			StartTime:        line.StartTime,
			EndTime:          line.EndTime,
			RequiredCapacity: line.RequiredCapacity,
		}
		if resource, err := s.catalog.FindResource(ctx, line.ResourceID); err == nil {
			view.ResourceName = resource.Name
			view.ResourceType = resource.Type
			check := s.checker.CheckResourceSnapshot(resource.MaxCapacity, line.ResourceID, lineWindow, line.RequiredCapacity, line.ID)
			view.HasConflict = !check.Available
		}
		detail.Resources = append(detail.Resources, view)
	}

	return detail, nil
}
