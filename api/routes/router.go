package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marina-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/marina-backend/api/controllers/webhooks"
	"github.com/angelmondragon/marina-backend/api/middleware"
	"github.com/angelmondragon/marina-backend/pkg/config"
	"github.com/angelmondragon/marina-backend/pkg/logger"
)

type RouterParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               controllers.Pinger
	Redis            controllers.Pinger
	MercadoPago      webhookcontrollers.MercadoPagoWebhookService
	MercadoPagoGuard webhookcontrollers.MercadoPagoWebhookGuard
	Gatherer         prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg, logg := params.Config, params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": params.DB,
			"redis":    params.Redis,
		}))
	})

	if params.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mercadopago", webhookcontrollers.MercadoPagoWebhook(params.MercadoPago, params.MercadoPagoGuard, logg))
	})

	return r
}
