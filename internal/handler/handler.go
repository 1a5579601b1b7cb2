package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bharathbbg/delivery-confirmation-service/internal/metrics"
	"github.com/bharathbbg/delivery-confirmation-service/internal/service"
)

type TokenVerifier interface {
	Verify(raw string) (service.Actor, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Options struct {
	Service  *service.DeliveryService
	Verifier TokenVerifier
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Checks   map[string]ReadinessCheck
}

type Handler struct {
	service  *service.DeliveryService
	verifier TokenVerifier
	log      *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	checks   map[string]ReadinessCheck
	validate *validator.Validate
}

func NewHandler(opts Options) *Handler {
	h := &Handler{
		service:  opts.Service,
		verifier: opts.Verifier,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		checks:   opts.Checks,
		validate: newValidator(),
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	return h
}

// NewRouter registers the delivery routes and the middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(h.requestID)
	r.Use(h.recoverer)
	r.Use(h.accessLog)
	r.Use(h.instrument)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/delivery", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Get("/my-deliveries", h.myDeliveries)
		r.Get("/qr/{order_id}", h.getCredential)
		r.Post("/qr/{order_id}/renew", h.renewCredential)
		r.Post("/verify-scan", h.verifyScan)
		r.Post("/confirm-delivery", h.confirmDelivery)
		r.Post("/issue", h.issue)
		r.Post("/orders/{order_id}/shipped", h.markShipped)
		r.Get("/orders/{order_id}/events", h.history)
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		h.logger(r.Context()).Warn("readiness check failed", zap.Any("checks", failed))
		writeError(w, http.StatusServiceUnavailable, "NOT_READY", "dependencies unavailable")
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ready"})
}
