package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"aksara/backend/internal/auth"
	"aksara/backend/internal/config"
	"aksara/backend/internal/conversation"
	"aksara/backend/internal/document"
	"aksara/backend/internal/logging"
	"aksara/backend/internal/metrics"
	"aksara/backend/internal/relay"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ChatRelay is implemented by *relay.Service.
type ChatRelay interface {
	ModelID(raw string) string
	Stream(ctx context.Context, req relay.Request, emit func(relay.Frame) error) error
	Complete(ctx context.Context, req relay.Request) (string, error)
	Title(ctx context.Context, model, firstMessage string) (string, error)
}

// DocumentExtractor is implemented by *document.Extractor.
type DocumentExtractor interface {
	Extract(ctx context.Context, userID string, upload document.Upload) (document.Result, error)
	PurgeUser(ctx context.Context, userID string) error
	MaxBytes() int64
}

// RateLimiter is implemented by *ratelimit.FixedWindowLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Deps struct {
	Config        config.Config
	Relay         ChatRelay
	Conversations conversation.Store
	Documents     DocumentExtractor
	Verifier      auth.Verifier
	Limiter       RateLimiter // nil disables rate limiting
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer
	Logger        zerolog.Logger
}

type Handler struct {
	cfg           config.Config
	relay         ChatRelay
	conversations conversation.Store
	documents     DocumentExtractor
	verifier      auth.Verifier
	limiter       RateLimiter
	metrics       *metrics.Metrics
	gatherer      prometheus.Gatherer
	logger        zerolog.Logger
}

func NewHandler(deps Deps) Handler {
	return Handler{
		cfg:           deps.Config,
		relay:         deps.Relay,
		conversations: deps.Conversations,
		documents:     deps.Documents,
		verifier:      deps.Verifier,
		limiter:       deps.Limiter,
		metrics:       deps.Metrics,
		gatherer:      deps.Gatherer,
		logger:        deps.Logger,
	}
}

type contextKey string

const identityContextKey contextKey = "identity"

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h Handler) AuthMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": identity})
}

// RequireIdentity resolves the caller from a bearer ID token. With
// AUTH_REQUIRED=false every request runs as the anonymous identity.
func (h Handler) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.cfg.AuthRequired {
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), auth.Anonymous())))
			return
		}

		identity, err := h.identityFromRequest(r.Context(), r)
		if err != nil {
			logging.FromRequest(r).Debug().Err(err).Msg("identity rejected")
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid identity token")
			return
		}

		logger := logging.FromRequest(r).With().Str("user_id", identity.UserID).Logger()
		ctx := logger.WithContext(withIdentity(r.Context(), identity))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h Handler) identityFromRequest(ctx context.Context, r *http.Request) (auth.Identity, error) {
	if !h.cfg.InsecureSkipGoogleVerify {
		if h.verifier == nil {
			return auth.Identity{}, errors.New("no identity verifier configured")
		}
		return h.verifier.Verify(ctx, auth.BearerToken(r.Header.Get("Authorization")))
	}

	email := strings.TrimSpace(r.Header.Get("X-Test-Email"))
	sub := strings.TrimSpace(r.Header.Get("X-Test-Google-Sub"))
	if email == "" || sub == "" {
		return auth.Identity{}, errors.New("insecure auth mode requires X-Test-Email and X-Test-Google-Sub headers")
	}
	return auth.Identity{UserID: sub, Email: strings.ToLower(email), Name: strings.TrimSpace(r.Header.Get("X-Test-Name"))}, nil
}

func withIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(auth.Identity)
	return identity, ok
}
