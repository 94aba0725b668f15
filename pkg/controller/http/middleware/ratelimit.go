package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kitsune/pkg/domain/model/auth"
	"github.com/m-mizutani/kitsune/pkg/domain/types/apperr"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// RateLimiter keeps one token bucket per principal. A project key has its own
// bucket, session tokens share the bucket of their project.
type RateLimiter struct {
	perMinute int
	burst     int
	now       func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per principal
// with the given burst. A non positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perMinute: perMinute,
		burst:     burst,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
	}
}

func principalKey(p *auth.Principal) string {
	if p.APIKeyID != nil {
		return "key:" + p.APIKeyID.String()
	}
	return "project:" + p.ProjectID.String()
}

// Allow consumes one token of principal's bucket
func (x *RateLimiter) Allow(p *auth.Principal) bool {
	if x.perMinute <= 0 {
		return true
	}

	key := principalKey(p)
	x.mu.Lock()
	b, ok := x.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(x.perMinute)/60.0, x.burst)}
		x.buckets[key] = b
	}
	b.lastSeen = x.now()
	limiter := b.limiter
	x.mu.Unlock()

	return limiter.Allow()
}

// Sweep drops buckets idle for longer than the TTL
func (x *RateLimiter) Sweep() {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()
	for key, b := range x.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(x.buckets, key)
		}
	}
}

// Run sweeps idle buckets every minute until ctx is done
func (x *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			x.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Middleware rejects requests over the limit. It must run after Auth.
func (x *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if ok && !x.Allow(principal) {
			WriteError(w, goerr.New("rate limit exceeded, retry later",
				goerr.T(apperr.ErrTagRateLimit),
				goerr.TV(apperr.ProjectIDKey, principal.ProjectID)))
			return
		}
		next.ServeHTTP(w, r)
	})
}
