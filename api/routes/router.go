package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mvrodrig/tillsync/api/controllers"
	"github.com/mvrodrig/tillsync/api/middleware"
	"github.com/mvrodrig/tillsync/pkg/config"
	"github.com/mvrodrig/tillsync/pkg/db"
	"github.com/mvrodrig/tillsync/pkg/logger"
)

// NewRouter wires the local HTTP surface the till UI polls.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	store db.Pinger,
	queue controllers.QueueService,
	engine controllers.SyncEngine,
	diag controllers.DiagnosticsLoader,
	snaps controllers.SnapshotStore,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(cfg.API.CORSOrigins),
	)

	r.Get("/healthz/live", controllers.HealthLive(cfg))
	r.Get("/healthz/ready", controllers.HealthReady(cfg, store))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", controllers.EnqueuePayment(logg, queue))
			r.Get("/", controllers.ListPayments(logg, queue))
			r.Post("/sync", controllers.SyncPayments(logg, engine))
			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", controllers.RemovePayment(logg, queue))
				r.Post("/retry", controllers.RetryPayment(logg, engine))
				r.Post("/fail", controllers.FailPayment(logg, queue))
			})
		})

		r.Post("/connectivity", controllers.ReportConnectivity(logg, engine))

		r.Get("/diagnostics", controllers.OfflineDiagnostics(diag))

		r.Route("/snapshots/{kind}", func(r chi.Router) {
			r.Put("/", controllers.PutSnapshot(logg, snaps))
			r.Get("/", controllers.GetSnapshot(logg, snaps))
			r.Delete("/", controllers.ClearSnapshot(logg, snaps))
		})
	})

	return r
}
