package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	authsvc "github.com/sinhamoca/verificacao-sub002/internal/services/auth"
	fulfillsvc "github.com/sinhamoca/verificacao-sub002/internal/services/fulfillment"
	paysvc "github.com/sinhamoca/verificacao-sub002/internal/services/payments"
	ratesvc "github.com/sinhamoca/verificacao-sub002/internal/services/rate"
	"github.com/sinhamoca/verificacao-sub002/internal/transport/http/handlers"
)

type Dependencies struct {
	AuthService        *authsvc.Service
	PaymentService     *paysvc.Service
	FulfillmentService *fulfillsvc.Service
	LoginLimiter       *ratesvc.LoginLimiter
	Logger             *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	var loginLimiter handlers.LoginLimiter
	if deps.LoginLimiter != nil {
		loginLimiter = deps.LoginLimiter
	}

	healthHandler := handlers.NewHealthHandler()
	authHandler := handlers.NewAuthHandler(deps.AuthService, loginLimiter)
	paymentHandler := handlers.NewPaymentHandler(deps.PaymentService, deps.FulfillmentService)
	adminHandler := handlers.NewAdminHandler(deps.FulfillmentService)

	authMW := AuthMiddleware(deps.AuthService, deps.Logger)
	operatorRoleMW := RequireRole("OWNER", "SUPPORT")

	r.Get("/healthz", healthHandler.Healthz)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", authHandler.Login)
		r.With(authMW).Post("/logout", authHandler.Logout)
	})

	r.With(authMW).Get("/packages", paymentHandler.Packages)
	r.With(authMW).Post("/payments", paymentHandler.Create)
	r.With(authMW).Get("/payments/{id}", paymentHandler.Get)
	r.Post("/payments/webhook", paymentHandler.Webhook)
	r.With(authMW).Post("/payments/{id}/retry", paymentHandler.Retry)

	r.Route("/admin", func(r chi.Router) {
		r.With(authMW, operatorRoleMW).Post("/fulfillment/retry-all", adminHandler.RetryAll)
	})
}
