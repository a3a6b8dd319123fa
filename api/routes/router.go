package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/planwright/planwright-backend/api/controllers"
	"github.com/planwright/planwright-backend/api/middleware"
	"github.com/planwright/planwright-backend/internal/catalog"
	"github.com/planwright/planwright-backend/internal/reservations"
	"github.com/planwright/planwright-backend/pkg/config"
	"github.com/planwright/planwright-backend/pkg/logger"
)

// RouterParams carry everything the HTTP surface needs.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *gorm.DB
	Reservations reservations.Service
	Catalog      catalog.Repository
	Metrics      prometheus.Gatherer
}

// NewRouter assembles the chi router for the reservation API.
func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, params.DB))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/atp", func(r chi.Router) {
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", controllers.CreateReservation(params.Reservations, logg))
			r.Get("/", controllers.ListReservations(params.Reservations, logg))

			r.Route("/{reservationID}", func(r chi.Router) {
				r.Get("/", controllers.GetReservation(params.Reservations, logg))
				r.Patch("/", controllers.UpdateReservation(params.Reservations, logg))
				r.Post("/confirm", controllers.ConfirmReservation(params.Reservations, logg))
				r.Post("/cancel", controllers.CancelReservation(params.Reservations, logg))
				r.Post("/complete", controllers.CompleteReservation(params.Reservations, logg))
			})
		})

		r.Post("/check-material-availability", controllers.CheckMaterialAvailability(params.Reservations, logg))
		r.Post("/check-resource-availability", controllers.CheckResourceAvailability(params.Reservations, logg))

		r.Get("/items", controllers.ListItems(params.Catalog, logg))
		r.Get("/resources", controllers.ListResources(params.Catalog, logg))
	})

	return r
}
