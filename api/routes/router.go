package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bazaarhq/bazaar-backend/api/controllers"
	admincontrollers "github.com/bazaarhq/bazaar-backend/api/controllers/admin"
	ordercontrollers "github.com/bazaarhq/bazaar-backend/api/controllers/orders"
	sellercontrollers "github.com/bazaarhq/bazaar-backend/api/controllers/sellers"
	webhookcontrollers "github.com/bazaarhq/bazaar-backend/api/controllers/webhooks"
	"github.com/bazaarhq/bazaar-backend/api/middleware"
	"github.com/bazaarhq/bazaar-backend/internal/orders"
	"github.com/bazaarhq/bazaar-backend/internal/reconciliation"
	"github.com/bazaarhq/bazaar-backend/internal/revenue"
	"github.com/bazaarhq/bazaar-backend/internal/sellers"
	"github.com/bazaarhq/bazaar-backend/pkg/config"
	"github.com/bazaarhq/bazaar-backend/pkg/enums"
	"github.com/bazaarhq/bazaar-backend/pkg/logger"
	"github.com/bazaarhq/bazaar-backend/pkg/redis"
)

// RedisStore is the Redis surface the HTTP layer needs.
type RedisStore interface {
	redis.IdempotencyStore
	redis.CounterStore
	Ping(ctx context.Context) error
}

// Services bundles everything the router hands to controllers.
type Services struct {
	Orders         orders.Service
	Sellers        sellers.Service
	Settler        ordercontrollers.Settler
	Revenue        revenue.Service
	Reconciliation reconciliation.Service
	StripeWebhook  webhookcontrollers.EventHandler
	StripeSigner   interface{ SigningSecret() string }
	WebhookGuard   webhookcontrollers.EventGuard
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient RedisStore,
	gatherer prometheus.Gatherer,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	settlePolicy := middleware.NewRateLimitPolicy(
		"settle",
		cfg.RateLimit.SettleWindow,
		cfg.RateLimit.SettleUserLimit,
		cfg.RateLimit.SettleIPLimit,
	)
	idempotent := middleware.Idempotency(redisClient, logg, middleware.DefaultIdempotencyTTL)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": dbP,
			"redis":    redisClient,
		}))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(svc.StripeWebhook, svc.StripeSigner, svc.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, enums.RoleBuyer), idempotent).
				Post("/", ordercontrollers.Create(svc.Orders, logg))
			r.Get("/", ordercontrollers.List(svc.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(svc.Orders, logg))
			r.With(
				middleware.RequireRole(logg, enums.RoleBuyer, enums.RoleAdmin),
				middleware.RateLimit(settlePolicy, redisClient, logg),
				middleware.Idempotency(redisClient, logg, middleware.SettlementIdempotencyTTL),
			).Post("/{orderId}/settle", ordercontrollers.Settle(svc.Orders, svc.Sellers, svc.Settler, logg))
			r.Get("/{orderId}/settlements", ordercontrollers.Settlements(svc.Orders, svc.Settler, logg))
		})

		r.Route("/sellers/me/payout-account", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleSeller))
			r.Get("/", sellercontrollers.GetPayoutAccount(svc.Sellers, logg))
			r.Put("/", sellercontrollers.PutPayoutAccount(svc.Sellers, logg))
			r.With(idempotent).Post("/onboard", sellercontrollers.Onboard(svc.Sellers, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.RoleAdmin))
			r.Get("/revenue", admincontrollers.Revenue(svc.Revenue, logg))
			r.Get("/reconciliation", admincontrollers.ReconciliationQueue(svc.Reconciliation, logg))
			r.With(idempotent).Post("/reconciliation/{itemId}/resolve", admincontrollers.ResolveReconciliationItem(svc.Reconciliation, logg))
		})
	})

	return r
}
