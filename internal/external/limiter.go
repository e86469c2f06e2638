package external

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/kamusis/skillmatch/internal/domain"
	"github.com/kamusis/skillmatch/internal/plugin"
)

// limiter is a per-source token bucket refilled at PerMinute tokens per
// minute with a burst of PerMinute, so a quiet source may spend its whole
// minute's budget at once.
type limiter struct {
	source string
	policy plugin.RatePolicy
	wait   time.Duration
	bucket *rate.Limiter
}

func newLimiter(source string, rl plugin.RateLimit) *limiter {
	l := &limiter{source: source, policy: rl.Policy, wait: rl.MaxWait}
	if rl.PerMinute <= 0 {
		l.bucket = rate.NewLimiter(rate.Inf, 0)
		return l
	}
	l.bucket = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.PerMinute)), rl.PerMinute)
	if l.policy == "" {
		l.policy = plugin.PolicyFailFast
	}
	return l
}

// acquire takes one token. Under PolicyFailFast it never blocks; under
// PolicyWait it blocks up to the configured wait. Either way an unavailable
// token is a *domain.RateLimitError.
func (l *limiter) acquire(ctx context.Context) error {
	now := time.Now()
	r := l.bucket.ReserveN(now, 1)
	if !r.OK() {
		return &domain.RateLimitError{Source: domain.SourceID(l.source)}
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return nil
	}

	if l.policy != plugin.PolicyWait || delay > l.wait {
		r.CancelAt(now)
		return &domain.RateLimitError{Source: domain.SourceID(l.source), RetryAfter: delay}
	}
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < delay {
		r.Cancel()
		return &domain.RateLimitError{Source: domain.SourceID(l.source), RetryAfter: delay}
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}
