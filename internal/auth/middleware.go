package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type claimsKey struct{}

// WithClaims stores claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// FromContext retrieves claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok && claims != nil
}

// OwnerFromContext returns the document owner the request acts for.
func OwnerFromContext(ctx context.Context) (string, bool) {
	claims, ok := FromContext(ctx)
	if !ok || claims.Owner == "" {
		return "", false
	}
	return claims.Owner, true
}

// AllowsDevice reports whether the token may write changes stamped with deviceID. Tokens without a
// device claim are not bound to one device.
func (c *Claims) AllowsDevice(deviceID string) bool {
	if c == nil {
		return false
	}
	return c.DeviceID == "" || c.DeviceID == deviceID
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithPublicPaths lets requests for the exact paths through without a token.
func WithPublicPaths(paths ...string) MiddlewareOption {
	return func(m *Middleware) {
		for _, p := range paths {
			m.public[p] = struct{}{}
		}
	}
}

// WithMiddlewareLogger logs rejected requests at debug level.
func WithMiddlewareLogger(logger *zap.Logger) MiddlewareOption {
	return func(m *Middleware) {
		m.logger = logger
	}
}

// Middleware authenticates API requests. Health, metrics and CORS preflight requests pass
// without a token.
type Middleware struct {
	cfg    Config
	public map[string]struct{}
	logger *zap.Logger
}

// NewMiddleware constructs a Middleware verifying tokens with cfg.
func NewMiddleware(cfg Config, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		cfg:    cfg,
		public: map[string]struct{}{"/healthz": {}, "/metrics": {}},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap rejects requests without a valid bearer token and stores the claims of accepted ones.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		token, err := bearerToken(r.Header.Get("Authorization"))
		if err == nil {
			var claims *Claims
			if claims, err = Parse(token, m.cfg); err == nil {
				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
				return
			}
		}
		m.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("WWW-Authenticate", `Bearer realm="fitstate"`)
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"type": "unauthorized", "detail": err.Error()})
	})
}

func (m *Middleware) skip(r *http.Request) bool {
	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		return true
	}
	_, ok := m.public[r.URL.Path]
	return ok
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrInvalidToken
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
