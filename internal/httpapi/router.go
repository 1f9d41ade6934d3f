package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bloomnest/entitlements/pkg/billing"
	"github.com/bloomnest/entitlements/pkg/entitlement"
	"github.com/bloomnest/entitlements/pkg/logger"
)

// UserIDHeader carries the authenticated user id set by the gateway.
const UserIDHeader = "X-User-ID"

const defaultMaxBodyBytes = 1 << 20

var (
	errMissingUser = errors.New("missing " + UserIDHeader + " header")
	errBadRequest  = errors.New("malformed request")
)

// WebhookVerifier authenticates and normalizes provider webhooks.
// billing.Provider satisfies it.
type WebhookVerifier interface {
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*billing.WebhookEvent, error)
	SignatureHeader() string
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type api struct {
	svc          *entitlement.Service
	webhooks     WebhookVerifier
	logger       *slog.Logger
	readiness    []ReadinessCheck
	gatherer     prometheus.Gatherer
	maxBodyBytes int64
}

type Option func(*api)

func WithLogger(l *slog.Logger) Option {
	return func(a *api) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithWebhooks enables POST /webhooks/billing.
func WithWebhooks(v WebhookVerifier) Option {
	return func(a *api) {
		a.webhooks = v
	}
}

func WithReadinessChecks(checks ...ReadinessCheck) Option {
	return func(a *api) {
		a.readiness = append(a.readiness, checks...)
	}
}

// WithMetrics mounts /metrics for g.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(a *api) {
		a.gatherer = g
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *api) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// NewRouter builds the HTTP handler for svc.
func NewRouter(svc *entitlement.Service, opts ...Option) http.Handler {
	a := &api{
		svc:          svc,
		logger:       logger.Discard(),
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(a)
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.liveness)
	r.Get("/readyz", a.readinessProbe)
	if a.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/webhooks/billing", a.billingWebhook)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/promo/apply", a.applyPromo)
		r.Post("/promo/claim", a.claimPromo)
		r.Post("/trial/start", a.startTrial)
		r.Post("/checkout", a.checkout)
		r.Get("/subscription", a.subscription)
		r.Get("/features/{feature}/access", a.featureAccess)
	})

	return r
}

type userIDKey struct{}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserIDHeader)
		if userID == "" {
			status, detail := errorStatus(errMissingUser)
			writeError(w, status, detail)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		ctx = logger.ContextWithAttrs(ctx, logger.UserID(userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey{}).(string)
	return id
}

func (a *api) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		a.logger.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			logger.Duration(time.Since(start)),
		)
	})
}

// fail logs server-side failures and writes the mapped error response.
func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := errorStatus(err)
	if status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed", logger.Error(err))
	}
	writeError(w, status, detail)
}

func (a *api) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ALIVE"))
}

func (a *api) readinessProbe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, check := range a.readiness {
		if err := check(ctx); err != nil {
			a.logger.ErrorContext(ctx, "readiness check failed", logger.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}
