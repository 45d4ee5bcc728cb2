package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veloramed/telehealth-backend/api/controllers"
	webhookcontrollers "github.com/veloramed/telehealth-backend/api/controllers/webhooks"
	"github.com/veloramed/telehealth-backend/api/middleware"
	"github.com/veloramed/telehealth-backend/internal/approvals"
	checkoutsvc "github.com/veloramed/telehealth-backend/internal/checkout"
	orderssvc "github.com/veloramed/telehealth-backend/internal/orders"
	"github.com/veloramed/telehealth-backend/internal/paymentmethods"
	paymentssvc "github.com/veloramed/telehealth-backend/internal/payments"
	"github.com/veloramed/telehealth-backend/internal/recommendations"
	geniewebhook "github.com/veloramed/telehealth-backend/internal/webhooks"
	"github.com/veloramed/telehealth-backend/pkg/config"
	"github.com/veloramed/telehealth-backend/pkg/db"
	"github.com/veloramed/telehealth-backend/pkg/genie"
	"github.com/veloramed/telehealth-backend/pkg/logger"
	"github.com/veloramed/telehealth-backend/pkg/metrics"
	"github.com/veloramed/telehealth-backend/pkg/redis"
)

// Deps bundles everything the router mounts. Keeping it a struct spares main
// a twenty-argument constructor.
type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      db.Pinger
	Redis   redis.Pinger
	Genie   *genie.Client
	Metrics *metrics.WebhookMetrics

	Checkout        checkoutsvc.Service
	Payments        paymentssvc.Service
	PaymentMethods  paymentmethods.Service
	Orders          orderssvc.Service
	GenieWebhooks   geniewebhook.Service
	Approvals       approvals.Service
	Recommendations *recommendations.Registry
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.DB, deps.Redis, logg))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/genie", webhookcontrollers.GenieWebhook(deps.GenieWebhooks, deps.Genie, deps.Metrics, logg))
		r.Post("/physician-decision", webhookcontrollers.PhysicianDecision(deps.Approvals, cfg.Review.WebhookSecret, logg))
	})

	// Checkout accepts guests; a bearer token attaches ownership when present.
	r.Route("/api/v1/checkout/sessions", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))

		r.Post("/", controllers.CreateCheckoutSession(deps.Checkout, logg))
		r.Route("/{token}", func(r chi.Router) {
			r.Get("/", controllers.GetCheckoutSession(deps.Checkout, logg))
			r.Patch("/", controllers.UpdateCheckoutSession(deps.Checkout, logg))
			r.Post("/extend", controllers.ExtendCheckoutSession(deps.Checkout, logg))
			r.Post("/cancel", controllers.CancelCheckoutSession(deps.Checkout, logg))
			r.Post("/complete", controllers.CompleteCheckoutSession(deps.Checkout, logg))
			r.Post("/steps/{step}", controllers.EvaluateCheckoutStep(deps.Checkout, logg))
			r.Post("/payment", controllers.ProcessPayment(deps.Checkout, deps.Payments, logg))
		})
	})

	r.Route("/api/v1/recommendations", func(r chi.Router) {
		r.Get("/", controllers.ListVerticals(deps.Recommendations))
		r.Post("/{vertical}", controllers.Recommend(deps.Recommendations, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", controllers.GetOrder(deps.Orders, logg))
			r.Post("/cancel", controllers.CancelOrder(deps.Orders, logg))
		})
		r.Get("/payment-methods", controllers.ListPaymentMethods(deps.PaymentMethods, logg))
	})

	return r
}
