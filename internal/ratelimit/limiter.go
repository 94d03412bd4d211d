package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/lumapix/go-transform-backend/internal/config"
)

// Named limiters. Each name selects its own ceiling/window pair and carries
// its own Redis key namespace, so a subject's processing traffic and an IP's
// total traffic are counted independently.
const (
	LimiterUser    = "user"
	LimiterAnon    = "anon"
	LimiterIP      = "ip"
	LimiterContact = "contact"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// LimitedBy names the limiter that denied a combined check ("user"|"ip"),
	// so the caller can surface a precise message.
	LimitedBy string
}

// Limiter evaluates named sliding-window limits against the shared counter
// store. When no store is configured it degrades to process-local token
// buckets, which are correct for a single instance and advisory for a fleet.
//
// Failure policy: a counter-store error fails OPEN (request admitted, warning
// logged). Quota reservation fails closed in the durable store, so an
// unavailable Redis never grants free work, only weaker abuse protection.
type Limiter struct {
	window *Window
	cfg    config.RateLimitConfig

	// Local fallback, keyed by limiter name + identity.
	mu    sync.Mutex
	local map[string]*rate.Limiter
}

// New builds a Limiter over the given Window. window may be nil, in which
// case the process-local fallback is used for every check.
func New(window *Window, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		window: window,
		cfg:    cfg,
		local:  make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) limiterConfig(name string) config.LimiterConfig {
	switch name {
	case LimiterUser:
		return l.cfg.User
	case LimiterAnon:
		return l.cfg.Anon
	case LimiterContact:
		return l.cfg.Contact
	default:
		return l.cfg.IP
	}
}

// Check admits or denies one request for key under the named limiter.
func (l *Limiter) Check(ctx context.Context, name, key string) Result {
	lc := l.limiterConfig(name)

	if l.window == nil {
		return l.checkLocal(name, key, lc)
	}

	allowed, count, resetAt, err := l.window.Allow(ctx, "rl:"+name+":"+key, lc.Limit, lc.Window)
	if err != nil {
		// Fail open: admission control is protection, not billing.
		log.Warn().Err(err).Str("limiter", name).Msg("rate limit store unavailable, failing open")
		return Result{Allowed: true, Limit: lc.Limit, Remaining: lc.Limit, ResetAt: time.Now().Add(lc.Window)}
	}

	remaining := lc.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   allowed,
		Limit:     lc.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		LimitedBy: denier(name, allowed),
	}
}

// CheckCombined evaluates the subject limiter and the per-IP limiter and
// returns the more restrictive outcome, tagged with which one fired. Both
// limiters record the request; defense in depth against one subject spraying
// requests from distributed identities costs one window slot per axis.
func (l *Limiter) CheckCombined(ctx context.Context, subjectLimiter, subjectKey, ipKey string) Result {
	user := l.Check(ctx, subjectLimiter, subjectKey)
	ip := l.Check(ctx, LimiterIP, ipKey)

	if !user.Allowed {
		return user
	}
	if !ip.Allowed {
		return ip
	}
	// Both allowed: report the tighter remaining budget.
	if ip.Remaining < user.Remaining {
		return ip
	}
	return user
}

// checkLocal is the single-process fallback built on token buckets. Window
// semantics are approximated as lc.Limit tokens refilled over lc.Window.
func (l *Limiter) checkLocal(name, key string, lc config.LimiterConfig) Result {
	mapKey := name + ":" + key

	l.mu.Lock()
	lim, ok := l.local[mapKey]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(lc.Limit)/lc.Window.Seconds()), lc.Limit)
		l.local[mapKey] = lim
	}
	l.mu.Unlock()

	allowed := lim.Allow()
	res := Result{
		Allowed:   allowed,
		Limit:     lc.Limit,
		ResetAt:   time.Now().Add(lc.Window),
		LimitedBy: denier(name, allowed),
	}
	if tokens := int(lim.Tokens()); tokens > 0 {
		res.Remaining = tokens
	}
	return res
}

// denier tags the result with the limiter name only when it denied.
func denier(name string, allowed bool) string {
	if allowed {
		return ""
	}
	return name
}
