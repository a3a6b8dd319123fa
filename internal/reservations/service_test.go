package reservations

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/planwright/planwright-backend/internal/availability"
	"github.com/planwright/planwright-backend/internal/catalog"
	"github.com/planwright/planwright-backend/pkg/db/models"
	"github.com/planwright/planwright-backend/pkg/enums"
	pkgerrors "github.com/planwright/planwright-backend/pkg/errors"
	"github.com/planwright/planwright-backend/pkg/logger"
	"github.com/planwright/planwright-backend/pkg/types"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (g gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return g.db.WithContext(ctx).Transaction(fn)
}

type testEnv struct {
	svc   Service
	db    *gorm.DB
	index *availability.Index
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, func(r Repository) Repository { return r })
}

func newTestEnvWith(t *testing.T, wrap func(Repository) Repository) *testEnv {
	t.Helper()

	dsn := "file:reservations_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	index := availability.NewIndex()
	catalogRepo := catalog.NewRepository(db)
	checker, err := availability.NewChecker(index, catalogRepo)
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}

	svc, err := NewService(ServiceParams{
		Repo:    wrap(NewRepository(db)),
		Tx:      gormTxRunner{db: db},
		Index:   index,
		Checker: checker,
		Catalog: catalogRepo,
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	return &testEnv{svc: svc, db: db, index: index}
}

func seedItem(t *testing.T, db *gorm.DB, onHand int64) uuid.UUID {
	t.Helper()
	item := models.Item{
		ID:             uuid.New(),
		ItemNumber:     "ITM-" + uuid.NewString()[:8],
		ItemName:       "Test Item",
		OnHandQuantity: decimal.NewFromInt(onHand),
		UnitOfMeasure:  "EA",
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item.ID
}

func seedResource(t *testing.T, db *gorm.DB, maxCapacity int64) uuid.UUID {
	t.Helper()
	resource := models.Resource{
		ID:          uuid.New(),
		Name:        "RES-" + uuid.NewString()[:8],
		MaxCapacity: decimal.NewFromInt(maxCapacity),
	}
	if err := db.Create(&resource).Error; err != nil {
		t.Fatalf("seed resource: %v", err)
	}
	return resource.ID
}

func testWindow(offsetHours, durationHours int) (time.Time, time.Time) {
	start := time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(offsetHours) * time.Hour)
	return start, start.Add(time.Duration(durationHours) * time.Hour)
}

func materialInput(itemID uuid.UUID, qty int64, startOffset, duration int) CreateInput {
	start, end := testWindow(startOffset, duration)
	return CreateInput{
		Type:      enums.ReservationTypeMaterial,
		StartDate: start,
		EndDate:   end,
		Materials: []MaterialLineInput{{ItemID: itemID, RequiredQuantity: decimal.NewFromInt(qty)}},
	}
}

func resourceInput(resourceID uuid.UUID, capacity int64, startOffset, duration int) CreateInput {
	start, end := testWindow(startOffset, duration)
	return CreateInput{
		Type:      enums.ReservationTypeResource,
		StartDate: start,
		EndDate:   end,
		Resources: []ResourceLineInput{{ResourceID: resourceID, RequiredCapacity: decimal.NewFromInt(capacity)}},
	}
}

func assertCode(t *testing.T, err error, code pkgerrors.Code) *pkgerrors.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error, got %v", err)
	}
	if typed.Code() != code {
		t.Fatalf("error code = %s, want %s (%v)", typed.Code(), code, err)
	}
	return typed
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 10)

	start, end := testWindow(0, 4)

	cases := []struct {
		name  string
		input CreateInput
	}{
		{"unknown type", CreateInput{Type: "bogus", StartDate: start, EndDate: end}},
		{"inverted window", CreateInput{
			Type:      enums.ReservationTypeMaterial,
			StartDate: end,
			EndDate:   start,
			Materials: []MaterialLineInput{{ItemID: item, RequiredQuantity: decimal.NewFromInt(1)}},
		}},
		{"material type without lines", CreateInput{Type: enums.ReservationTypeMaterial, StartDate: start, EndDate: end}},
		{"resource lines on material type", CreateInput{
			Type:      enums.ReservationTypeMaterial,
			StartDate: start,
			EndDate:   end,
			Materials: []MaterialLineInput{{ItemID: item, RequiredQuantity: decimal.NewFromInt(1)}},
			Resources: []ResourceLineInput{{ResourceID: uuid.New(), RequiredCapacity: decimal.NewFromInt(1)}},
		}},
		{"zero quantity", CreateInput{
			Type:      enums.ReservationTypeMaterial,
			StartDate: start,
			EndDate:   end,
			Materials: []MaterialLineInput{{ItemID: item, RequiredQuantity: decimal.Zero}},
		}},
		{"unknown item", CreateInput{
			Type:      enums.ReservationTypeMaterial,
			StartDate: start,
			EndDate:   end,
			Materials: []MaterialLineInput{{ItemID: uuid.New(), RequiredQuantity: decimal.NewFromInt(1)}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Create(ctx, tc.input)
			assertCode(t, err, pkgerrors.CodeValidation)
		})
	}
}

func TestCreateResourceLineWindowMustNest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	resource := seedResource(t, env.db, 1)

	start, end := testWindow(0, 4)
	input := CreateInput{
		Type:      enums.ReservationTypeResource,
		StartDate: start,
		EndDate:   end,
		Resources: []ResourceLineInput{{
			ResourceID:       resource,
			StartTime:        start.Add(-time.Hour),
			EndTime:          end,
			RequiredCapacity: decimal.NewFromInt(1),
		}},
	}
	_, err := env.svc.Create(ctx, input)
	assertCode(t, err, pkgerrors.CodeValidation)
}

func TestCreateDefaults(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	resource := seedResource(t, env.db, 1)

	detail, err := env.svc.Create(ctx, resourceInput(resource, 1, 0, 4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if detail.Status != enums.ReservationStatusPending {
		t.Fatalf("status = %s, want pending", detail.Status)
	}
	if detail.Priority != enums.ReservationPriorityMedium {
		t.Fatalf("priority = %s, want medium default", detail.Priority)
	}
	if detail.ReservationNumber == "" {
		t.Fatal("reservation number not assigned")
	}
	// Omitted line window inherits the parent window.
	if len(detail.Resources) != 1 || !detail.Resources[0].StartTime.Equal(detail.StartDate) || !detail.Resources[0].EndTime.Equal(detail.EndDate) {
		t.Fatalf("resource line window not inherited: %+v", detail.Resources)
	}
}

func TestConfirmRoundTrip(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 10)
	resource := seedResource(t, env.db, 2)

	start, end := testWindow(0, 4)
	detail, err := env.svc.Create(ctx, CreateInput{
		Type:      enums.ReservationTypeBoth,
		StartDate: start,
		EndDate:   end,
		Materials: []MaterialLineInput{{ItemID: item, RequiredQuantity: decimal.NewFromInt(4)}},
		Resources: []ResourceLineInput{{ResourceID: resource, RequiredCapacity: decimal.NewFromInt(1)}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	confirmed, err := env.svc.Confirm(ctx, detail.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != enums.ReservationStatusConfirmed {
		t.Fatalf("status = %s, want confirmed", confirmed.Status)
	}
	if !confirmed.Materials[0].ReservedQuantity.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("reserved = %s, want 4", confirmed.Materials[0].ReservedQuantity)
	}

	// Committed demand is now visible to availability checks.
	if env.index.Len(availability.ItemKey(item)) != 1 {
		t.Fatal("material line not committed to index")
	}
	if env.index.Len(availability.ResourceKey(resource)) != 1 {
		t.Fatal("resource line not committed to index")
	}

	reloaded, err := env.svc.Get(ctx, detail.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != enums.ReservationStatusConfirmed {
		t.Fatalf("persisted status = %s, want confirmed", reloaded.Status)
	}
}

func TestConfirmInsufficientMaterial(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 10)

	first, err := env.svc.Create(ctx, materialInput(item, 6, 0, 4))
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, first.ID); err != nil {
		t.Fatalf("confirm first: %v", err)
	}

	second, err := env.svc.Create(ctx, materialInput(item, 6, 1, 4))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	_, err = env.svc.Confirm(ctx, second.ID)
	typed := assertCode(t, err, pkgerrors.CodeAvailabilityConflict)

	details, ok := typed.Details().(map[string]any)
	if !ok {
		t.Fatalf("details type %T", typed.Details())
	}
	failures, ok := details["failedLines"].([]LineFailure)
	if !ok || len(failures) != 1 {
		t.Fatalf("failedLines = %#v", details["failedLines"])
	}
	if failures[0].Shortfall == nil || !failures[0].Shortfall.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("shortfall = %v, want 2", failures[0].Shortfall)
	}

	// The failed confirm must not leak any commitment.
	reloaded, err := env.svc.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != enums.ReservationStatusPending {
		t.Fatalf("status = %s, want pending after failed confirm", reloaded.Status)
	}
	if env.index.Len(availability.ItemKey(item)) != 1 {
		t.Fatal("failed confirm leaked index entries")
	}

	// A disjoint window is unaffected by the committed demand.
	third, err := env.svc.Create(ctx, materialInput(item, 6, 10, 2))
	if err != nil {
		t.Fatalf("create third: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, third.ID); err != nil {
		t.Fatalf("confirm disjoint window: %v", err)
	}
}

func TestConfirmExclusiveResourceConflict(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	resource := seedResource(t, env.db, 1)

	first, err := env.svc.Create(ctx, resourceInput(resource, 1, 0, 4))
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, first.ID); err != nil {
		t.Fatalf("confirm first: %v", err)
	}

	second, err := env.svc.Create(ctx, resourceInput(resource, 1, 2, 4))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	_, err = env.svc.Confirm(ctx, second.ID)
	typed := assertCode(t, err, pkgerrors.CodeCapacityConflict)

	details := typed.Details().(map[string]any)
	failures := details["failedLines"].([]LineFailure)
	if len(failures) != 1 {
		t.Fatalf("expected one failed line, got %d", len(failures))
	}
	found := false
	for _, id := range failures[0].ConflictingReservationIDs {
		if id == first.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("conflicting reservations %v missing %s", failures[0].ConflictingReservationIDs, first.ID)
	}

	// Adjacent window on the half-open boundary does not conflict.
	third, err := env.svc.Create(ctx, resourceInput(resource, 1, 4, 2))
	if err != nil {
		t.Fatalf("create third: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, third.ID); err != nil {
		t.Fatalf("confirm adjacent window: %v", err)
	}
}

func TestConfirmAllOrNothing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 10)
	resource := seedResource(t, env.db, 1)

	blocker, err := env.svc.Create(ctx, resourceInput(resource, 1, 0, 4))
	if err != nil {
		t.Fatalf("create blocker: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, blocker.ID); err != nil {
		t.Fatalf("confirm blocker: %v", err)
	}

	start, end := testWindow(1, 2)
	mixed, err := env.svc.Create(ctx, CreateInput{
		Type:      enums.ReservationTypeBoth,
		StartDate: start,
		EndDate:   end,
		Materials: []MaterialLineInput{{ItemID: item, RequiredQuantity: decimal.NewFromInt(3)}},
		Resources: []ResourceLineInput{{ResourceID: resource, RequiredCapacity: decimal.NewFromInt(1)}},
	})
	if err != nil {
		t.Fatalf("create mixed: %v", err)
	}

	// The material line alone would fit; the resource conflict must veto the
	// whole reservation.
	_, err = env.svc.Confirm(ctx, mixed.ID)
	assertCode(t, err, pkgerrors.CodeCapacityConflict)

	if env.index.Len(availability.ItemKey(item)) != 0 {
		t.Fatal("partial commit leaked the material line into the index")
	}
	reloaded, err := env.svc.Get(ctx, mixed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != enums.ReservationStatusPending {
		t.Fatalf("status = %s, want pending", reloaded.Status)
	}
	if !reloaded.Materials[0].ReservedQuantity.Equal(decimal.Zero) {
		t.Fatalf("reserved = %s, want 0", reloaded.Materials[0].ReservedQuantity)
	}
}

func TestConfirmSiblingMaterialLinesShareStock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 100)

	start, end := testWindow(0, 4)
	detail, err := env.svc.Create(ctx, CreateInput{
		Type:      enums.ReservationTypeMaterial,
		StartDate: start,
		EndDate:   end,
		Materials: []MaterialLineInput{
			{ItemID: item, RequiredQuantity: decimal.NewFromInt(60)},
			{ItemID: item, RequiredQuantity: decimal.NewFromInt(60)},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Two lines on the same item draw from the same stock; together they
	// exceed the 100 on hand.
	_, err = env.svc.Confirm(ctx, detail.ID)
	typed := assertCode(t, err, pkgerrors.CodeAvailabilityConflict)

	details := typed.Details().(map[string]any)
	failures := details["failedLines"].([]LineFailure)
	if len(failures) != 1 {
		t.Fatalf("failed lines = %d, want 1", len(failures))
	}
	if failures[0].Shortfall == nil || !failures[0].Shortfall.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("shortfall = %v, want 20", failures[0].Shortfall)
	}
	if env.index.Len(availability.ItemKey(item)) != 0 {
		t.Fatal("failed confirm leaked index entries")
	}

	reloaded, err := env.svc.Get(ctx, detail.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != enums.ReservationStatusPending {
		t.Fatalf("status = %s, want pending", reloaded.Status)
	}

	// Sibling lines that fit together still confirm.
	fits, err := env.svc.Create(ctx, CreateInput{
		Type:      enums.ReservationTypeMaterial,
		StartDate: start,
		EndDate:   end,
		Materials: []MaterialLineInput{
			{ItemID: item, RequiredQuantity: decimal.NewFromInt(60)},
			{ItemID: item, RequiredQuantity: decimal.NewFromInt(40)},
		},
	})
	if err != nil {
		t.Fatalf("create fitting: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, fits.ID); err != nil {
		t.Fatalf("confirm fitting siblings: %v", err)
	}
	total := env.index.SumOverlapping(availability.ItemKey(item), types.Window{Start: start, End: end}, uuid.Nil)
	if !total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("committed total = %s, want 100", total)
	}
}

func TestConfirmSiblingResourceLinesShareCapacity(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	resource := seedResource(t, env.db, 10)

	start, end := testWindow(0, 4)
	mid := start.Add(2 * time.Hour)

	overbooked, err := env.svc.Create(ctx, CreateInput{
		Type:      enums.ReservationTypeResource,
		StartDate: start,
		EndDate:   end,
		Resources: []ResourceLineInput{
			{ResourceID: resource, RequiredCapacity: decimal.NewFromInt(6)},
			{ResourceID: resource, RequiredCapacity: decimal.NewFromInt(6)},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Both lines inherit the parent window, so their combined 12 exceeds the
	// maximum capacity of 10.
	_, err = env.svc.Confirm(ctx, overbooked.ID)
	assertCode(t, err, pkgerrors.CodeCapacityConflict)
	if env.index.Len(availability.ResourceKey(resource)) != 0 {
		t.Fatal("failed confirm leaked index entries")
	}

	// Disjoint sibling windows never count against each other.
	split, err := env.svc.Create(ctx, CreateInput{
		Type:      enums.ReservationTypeResource,
		StartDate: start,
		EndDate:   end,
		Resources: []ResourceLineInput{
			{ResourceID: resource, StartTime: start, EndTime: mid, RequiredCapacity: decimal.NewFromInt(6)},
			{ResourceID: resource, StartTime: mid, EndTime: end, RequiredCapacity: decimal.NewFromInt(6)},
		},
	})
	if err != nil {
		t.Fatalf("create split: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, split.ID); err != nil {
		t.Fatalf("confirm disjoint siblings: %v", err)
	}
}

func TestConfirmStateGuards(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 10)

	detail, err := env.svc.Create(ctx, materialInput(item, 2, 0, 4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, detail.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err = env.svc.Confirm(ctx, detail.ID)
	assertCode(t, err, pkgerrors.CodeStateConflict)

	cancelled, err := env.svc.Create(ctx, materialInput(item, 2, 0, 4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.Cancel(ctx, cancelled.ID, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = env.svc.Confirm(ctx, cancelled.ID)
	assertCode(t, err, pkgerrors.CodeGone)

	_, err = env.svc.Confirm(ctx, uuid.New())
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestCancelReleasesCommittedDemand(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	resource := seedResource(t, env.db, 1)

	first, err := env.svc.Create(ctx, resourceInput(resource, 1, 0, 4))
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, first.ID); err != nil {
		t.Fatalf("confirm first: %v", err)
	}

	second, err := env.svc.Create(ctx, resourceInput(resource, 1, 1, 2))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, second.ID); err == nil {
		t.Fatal("expected conflict while first holds the resource")
	}

	reason := "plan changed"
	cancelledDetail, err := env.svc.Cancel(ctx, first.ID, &reason)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelledDetail.Status != enums.ReservationStatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelledDetail.Status)
	}
	if cancelledDetail.CancelReason == nil || *cancelledDetail.CancelReason != reason {
		t.Fatalf("cancel reason = %v", cancelledDetail.CancelReason)
	}

	// Cancel is idempotent.
	again, err := env.svc.Cancel(ctx, first.ID, nil)
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if again.Status != enums.ReservationStatusCancelled {
		t.Fatalf("repeat cancel status = %s", again.Status)
	}

	// The freed capacity lets the second reservation commit.
	if _, err := env.svc.Confirm(ctx, second.ID); err != nil {
		t.Fatalf("confirm after cancel: %v", err)
	}
}

func TestCancelCompletedRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 5)

	detail, err := env.svc.Create(ctx, materialInput(item, 2, 0, 4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, detail.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := env.svc.Complete(ctx, detail.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err = env.svc.Cancel(ctx, detail.ID, nil)
	assertCode(t, err, pkgerrors.CodeStateConflict)

	if env.index.Len(availability.ItemKey(item)) != 0 {
		t.Fatal("completion did not release the index entry")
	}
}

func TestUpdateMetadata(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 5)

	detail, err := env.svc.Create(ctx, materialInput(item, 2, 0, 4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	notes := "expedite"
	priority := enums.ReservationPriorityCritical
	updated, err := env.svc.UpdateMetadata(ctx, detail.ID, UpdateMetadataInput{Notes: &notes, Priority: &priority})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Notes == nil || *updated.Notes != notes {
		t.Fatalf("notes = %v", updated.Notes)
	}
	if updated.Priority != priority {
		t.Fatalf("priority = %s", updated.Priority)
	}

	bad := enums.ReservationPriority("urgent")
	_, err = env.svc.UpdateMetadata(ctx, detail.ID, UpdateMetadataInput{Priority: &bad})
	assertCode(t, err, pkgerrors.CodeValidation)

	if _, err := env.svc.Cancel(ctx, detail.ID, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err = env.svc.UpdateMetadata(ctx, detail.ID, UpdateMetadataInput{Notes: &notes})
	assertCode(t, err, pkgerrors.CodeStateConflict)
}

func TestConcurrentConfirmOnlyOneWins(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 10)

	first, err := env.svc.Create(ctx, materialInput(item, 6, 0, 4))
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := env.svc.Create(ctx, materialInput(item, 6, 1, 4))
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func(slot int, reservationID uuid.UUID) {
			defer wg.Done()
			_, errs[slot] = env.svc.Confirm(ctx, reservationID)
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assertCode(t, err, pkgerrors.CodeAvailabilityConflict)
		}
	}
	if succeeded != 1 {
		t.Fatalf("confirmed %d of 2 overlapping reservations, want exactly 1", succeeded)
	}

	total := env.index.SumOverlapping(availability.ItemKey(item), mustIndexWindow(t, first), uuid.Nil)
	if !total.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("committed total = %s, want 6", total)
	}
}

func mustIndexWindow(t *testing.T, detail *Detail) types.Window {
	t.Helper()
	return types.Window{Start: detail.StartDate, End: detail.EndDate}
}

// hookedRepo runs a one-shot callback after the next Find, which lets a test
// slip a competing operation between an operation's pre-lock read and its
// locked re-read.
type hookedRepo struct {
	Repository
	mu     sync.Mutex
	onFind func()
}

func (h *hookedRepo) setOnFind(fn func()) {
	h.mu.Lock()
	h.onFind = fn
	h.mu.Unlock()
}

func (h *hookedRepo) Find(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	reservation, err := h.Repository.Find(ctx, id)
	h.mu.Lock()
	hook := h.onFind
	h.onFind = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return reservation, err
}

func TestCancelRacingConfirmReleasesIndex(t *testing.T) {
	t.Parallel()

	hooked := &hookedRepo{}
	env := newTestEnvWith(t, func(r Repository) Repository {
		hooked.Repository = r
		return hooked
	})
	ctx := context.Background()
	item := seedItem(t, env.db, 10)

	detail, err := env.svc.Create(ctx, materialInput(item, 4, 0, 4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The confirm lands after cancel's first read saw pending but before
	// cancel takes the entity locks.
	hooked.setOnFind(func() {
		if _, err := env.svc.Confirm(ctx, detail.ID); err != nil {
			t.Errorf("confirm during cancel: %v", err)
		}
	})

	cancelled, err := env.svc.Cancel(ctx, detail.ID, nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enums.ReservationStatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if env.index.Len(availability.ItemKey(item)) != 0 {
		t.Fatal("cancelled reservation left committed demand in the index")
	}

	reloaded, err := env.svc.Get(ctx, detail.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != enums.ReservationStatusCancelled {
		t.Fatalf("persisted status = %s, want cancelled", reloaded.Status)
	}
}

func TestConfirmRacingCancelReturnsGone(t *testing.T) {
	t.Parallel()

	hooked := &hookedRepo{}
	env := newTestEnvWith(t, func(r Repository) Repository {
		hooked.Repository = r
		return hooked
	})
	ctx := context.Background()
	item := seedItem(t, env.db, 10)

	detail, err := env.svc.Create(ctx, materialInput(item, 4, 0, 4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The cancel lands after confirm's first read saw pending.
	hooked.setOnFind(func() {
		if _, err := env.svc.Cancel(ctx, detail.ID, nil); err != nil {
			t.Errorf("cancel during confirm: %v", err)
		}
	})

	_, err = env.svc.Confirm(ctx, detail.ID)
	assertCode(t, err, pkgerrors.CodeGone)

	if env.index.Len(availability.ItemKey(item)) != 0 {
		t.Fatal("losing confirm committed demand to the index")
	}
	reloaded, err := env.svc.Get(ctx, detail.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if reloaded.Status != enums.ReservationStatusCancelled {
		t.Fatalf("persisted status = %s, want cancelled", reloaded.Status)
	}
}

func TestListFilters(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 10)
	resource := seedResource(t, env.db, 2)

	a, err := env.svc.Create(ctx, materialInput(item, 1, 0, 2))
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, a.ID); err != nil {
		t.Fatalf("confirm a: %v", err)
	}
	if _, err := env.svc.Create(ctx, resourceInput(resource, 1, 0, 2)); err != nil {
		t.Fatalf("create b: %v", err)
	}

	status := enums.ReservationStatusConfirmed
	confirmedOnly, err := env.svc.List(ctx, ListFilters{Status: &status})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(confirmedOnly) != 1 || confirmedOnly[0].ID != a.ID {
		t.Fatalf("confirmed filter returned %d rows", len(confirmedOnly))
	}

	typ := enums.ReservationTypeResource
	resourceOnly, err := env.svc.List(ctx, ListFilters{Type: &typ})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(resourceOnly) != 1 || resourceOnly[0].Type != enums.ReservationTypeResource {
		t.Fatalf("type filter returned %d rows", len(resourceOnly))
	}
}

func TestRebuildIndexFromPersistence(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 10)

	detail, err := env.svc.Create(ctx, materialInput(item, 4, 0, 4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, detail.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// A fresh process rebuilds committed demand from the database.
	freshIndex := availability.NewIndex()
	catalogRepo := catalog.NewRepository(env.db)
	checker, err := availability.NewChecker(freshIndex, catalogRepo)
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}
	fresh, err := NewService(ServiceParams{
		Repo:    NewRepository(env.db),
		Tx:      gormTxRunner{db: env.db},
		Index:   freshIndex,
		Checker: checker,
		Catalog: catalogRepo,
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	entries, err := fresh.RebuildIndex(ctx)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if entries != 1 {
		t.Fatalf("rebuilt %d entries, want 1", entries)
	}
	if freshIndex.Len(availability.ItemKey(item)) != 1 {
		t.Fatal("rebuilt index missing the committed line")
	}
}

func TestExpireStalePending(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 10)

	stale, err := env.svc.Create(ctx, materialInput(item, 1, 0, 4))
	if err != nil {
		t.Fatalf("create stale: %v", err)
	}
	fresh, err := env.svc.Create(ctx, materialInput(item, 1, 0, 4))
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	// Age the first hold past the timeout.
	aged := time.Now().UTC().Add(-2 * time.Hour)
	if err := env.db.Model(&models.Reservation{}).Where("id = ?", stale.ID).Update("created_at", aged).Error; err != nil {
		t.Fatalf("age reservation: %v", err)
	}

	count, err := env.svc.ExpireStalePending(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 1 {
		t.Fatalf("expired %d, want 1", count)
	}

	_, err = env.svc.Confirm(ctx, stale.ID)
	assertCode(t, err, pkgerrors.CodeGone)

	if _, err := env.svc.Confirm(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh hold should still confirm: %v", err)
	}
}

func TestSweeperLifecycleTransitions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	item := seedItem(t, env.db, 10)

	now := time.Now().UTC()
	started, err := env.svc.Create(ctx, CreateInput{
		Type:      enums.ReservationTypeMaterial,
		StartDate: now.Add(-2 * time.Hour),
		EndDate:   now.Add(2 * time.Hour),
		Materials: []MaterialLineInput{{ItemID: item, RequiredQuantity: decimal.NewFromInt(1)}},
	})
	if err != nil {
		t.Fatalf("create started: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, started.ID); err != nil {
		t.Fatalf("confirm started: %v", err)
	}

	ended, err := env.svc.Create(ctx, CreateInput{
		Type:      enums.ReservationTypeMaterial,
		StartDate: now.Add(-4 * time.Hour),
		EndDate:   now.Add(-2 * time.Hour),
		Materials: []MaterialLineInput{{ItemID: item, RequiredQuantity: decimal.NewFromInt(1)}},
	})
	if err != nil {
		t.Fatalf("create ended: %v", err)
	}
	if _, err := env.svc.Confirm(ctx, ended.ID); err != nil {
		t.Fatalf("confirm ended: %v", err)
	}

	activated, err := env.svc.ActivateDueConfirmed(ctx)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if activated != 2 {
		t.Fatalf("activated %d, want 2", activated)
	}

	completed, err := env.svc.CompleteDueActive(ctx)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed != 1 {
		t.Fatalf("completed %d, want 1", completed)
	}

	stillActive, err := env.svc.Get(ctx, started.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stillActive.Status != enums.ReservationStatusActive {
		t.Fatalf("status = %s, want active", stillActive.Status)
	}
	done, err := env.svc.Get(ctx, ended.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != enums.ReservationStatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}

	// Completed reservations release their index entries.
	if env.index.Len(availability.ItemKey(item)) != 1 {
		t.Fatalf("index entries = %d, want 1", env.index.Len(availability.ItemKey(item)))
	}
}
