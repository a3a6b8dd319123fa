package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/planwright/planwright-backend/api/responses"
	"github.com/planwright/planwright-backend/api/validators"
	"github.com/planwright/planwright-backend/internal/reservations"
	"github.com/planwright/planwright-backend/pkg/enums"
	pkgerrors "github.com/planwright/planwright-backend/pkg/errors"
	"github.com/planwright/planwright-backend/pkg/logger"
	"github.com/planwright/planwright-backend/pkg/types"
)

type createReservationRequest struct {
	Type        string                `json:"type" validate:"required"`
	Priority    string                `json:"priority"`
	StartDate   time.Time             `json:"startDate" validate:"required"`
	EndDate     time.Time             `json:"endDate" validate:"required"`
	OrderNumber *string               `json:"orderNumber"`
	Description *string               `json:"description"`
	Notes       *string               `json:"notes"`
	Materials   []materialLineRequest `json:"materials" validate:"dive"`
	Resources   []resourceLineRequest `json:"resources" validate:"dive"`
}

type materialLineRequest struct {
	ItemID           uuid.UUID       `json:"itemId" validate:"required"`
	RequiredQuantity decimal.Decimal `json:"requiredQuantity" validate:"required"`
	UnitOfMeasure    string          `json:"unitOfMeasure"`
}

type resourceLineRequest struct {
	ResourceID       uuid.UUID       `json:"resourceId" validate:"required"`
	StartTime        time.Time       `json:"startTime"`
	EndTime          time.Time       `json:"endTime"`
	RequiredCapacity decimal.Decimal `json:"requiredCapacity" validate:"required"`
}

type cancelReservationRequest struct {
	Reason *string `json:"reason"`
}

type updateReservationRequest struct {
	Notes    *string `json:"notes"`
	Priority *string `json:"priority"`
}

type materialCheckRequest struct {
	ItemID    uuid.UUID       `json:"itemId" validate:"required"`
	StartDate time.Time       `json:"startDate" validate:"required"`
	EndDate   time.Time       `json:"endDate" validate:"required"`
	Required  decimal.Decimal `json:"requiredQuantity" validate:"required"`
}

type resourceCheckRequest struct {
	ResourceID uuid.UUID       `json:"resourceId" validate:"required"`
	StartDate  time.Time       `json:"startDate" validate:"required"`
	EndDate    time.Time       `json:"endDate" validate:"required"`
	Required   decimal.Decimal `json:"requiredCapacity" validate:"required"`
}

// CreateReservation registers a pending hold; nothing is committed until the
// caller confirms it.
func CreateReservation(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createReservationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := reservations.CreateInput{
			Type:        enums.ReservationType(strings.ToLower(req.Type)),
			Priority:    enums.ReservationPriority(strings.ToLower(req.Priority)),
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
			OrderNumber: req.OrderNumber,
			Description: req.Description,
			Notes:       req.Notes,
		}
		for _, line := range req.Materials {
			input.Materials = append(input.Materials, reservations.MaterialLineInput{
				ItemID:           line.ItemID,
				RequiredQuantity: line.RequiredQuantity,
				UnitOfMeasure:    line.UnitOfMeasure,
			})
		}
		for _, line := range req.Resources {
			input.Resources = append(input.Resources, reservations.ResourceLineInput{
				ResourceID:       line.ResourceID,
				StartTime:        line.StartTime,
				EndTime:          line.EndTime,
				RequiredCapacity: line.RequiredCapacity,
			})
		}

		detail, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, detail)
	}
}

// ListReservations returns reservations filtered by status and type.
func ListReservations(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filters reservations.ListFilters

		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseReservationStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter"))
				return
			}
			filters.Status = &status
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
			typ, err := enums.ParseReservationType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type filter"))
				return
			}
			filters.Type = &typ
		}

		details, err := svc.List(r.Context(), filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, details)
	}
}

// GetReservation returns one reservation with derived line flags.
func GetReservation(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := reservationIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// ConfirmReservation runs the atomic all-or-nothing commit.
func ConfirmReservation(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := reservationIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Confirm(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// CancelReservation releases any committed demand. Safe to repeat.
func CancelReservation(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := reservationIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelReservationRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		detail, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// CompleteReservation finishes a confirmed or active reservation early.
func CompleteReservation(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := reservationIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Complete(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// UpdateReservation changes metadata only; lines and windows are immutable
// once created.
func UpdateReservation(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := reservationIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateReservationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := reservations.UpdateMetadataInput{Notes: req.Notes}
		if req.Priority != nil {
			priority := enums.ReservationPriority(strings.ToLower(*req.Priority))
			input.Priority = &priority
		}

		detail, err := svc.UpdateMetadata(r.Context(), id, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// CheckMaterialAvailability answers an ATP question without creating anything.
func CheckMaterialAvailability(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req materialCheckRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		window, err := windowFromRequest(req.StartDate, req.EndDate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		check, err := svc.CheckMaterialAvailability(r.Context(), req.ItemID, window, req.Required)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, check)
	}
}

// CheckResourceAvailability answers a CTP question without creating anything.
func CheckResourceAvailability(svc reservations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resourceCheckRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		window, err := windowFromRequest(req.StartDate, req.EndDate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		check, conflicting, err := svc.CheckResourceAvailability(r.Context(), req.ResourceID, window, req.Required)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"available":          check.Available,
			"maxCapacity":        check.MaxCapacity,
			"committedCapacity":  check.Committed,
			"conflictingLineIds": conflicting,
		})
	}
}

func reservationIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "reservationID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reservation id")
	}
	return id, nil
}

func windowFromRequest(start, end time.Time) (types.Window, error) {
	window := types.Window{Start: start, End: end}
	if err := window.Validate(); err != nil {
		return types.Window{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid window")
	}
	return window, nil
}
