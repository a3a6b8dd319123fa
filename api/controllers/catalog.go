package controllers

import (
	"net/http"

	"github.com/planwright/planwright-backend/api/responses"
	"github.com/planwright/planwright-backend/internal/catalog"
	"github.com/planwright/planwright-backend/pkg/logger"
)

// ListItems returns the item master for the planning UI.
func ListItems(repo catalog.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := repo.ListItems(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, items)
	}
}

// ListResources returns the resource master for the planning UI.
func ListResources(repo catalog.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resources, err := repo.ListResources(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resources)
	}
}
