package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"

	"github.com/at-ishikawa/studycore/internal/config"
)

// OwnerHeader identifies the caller. Authentication happens in front of
// this service.
const OwnerHeader = "X-Owner-Id"

type ownerKey struct{}

// ownerInterceptor rejects requests without an owner and stores the owner
// in the context.
func ownerInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			owner := strings.TrimSpace(req.Header().Get(OwnerHeader))
			if owner == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, errors.New(OwnerHeader+" header is required"))
			}
			return next(context.WithValue(ctx, ownerKey{}, owner), req)
		}
	}
}

func ownerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// ownerLimiter keeps one token bucket per owner.
type ownerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	enabled  bool
}

func newOwnerLimiter(cfg config.RateLimitConfig) *ownerLimiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &ownerLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
		enabled:  cfg.Enabled && cfg.RequestsPerSecond > 0,
	}
}

func (l *ownerLimiter) allow(owner string) bool {
	if !l.enabled {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[owner]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[owner] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func corsMiddleware(cfg config.CORSConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(cfg.AllowedOrigins, origin) || slices.Contains(cfg.AllowedOrigins, "*")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Connect-Protocol-Version, "+OwnerHeader)
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
