package collector

import (
	"context"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/time/rate"
)

const (
	// LowLimitThreshold is the remaining-request count below which the active
	// credential is rotated out before it hits a hard 403.
	LowLimitThreshold = 1750

	headerRateRemaining = "X-RateLimit-Remaining"
)

// RateStatus is the rate-limit snapshot attached to a response
type RateStatus struct {
	Limit     int
	Remaining int
	Reset     time.Time
	// Known is false when the response carried no rate-limit headers
	Known bool
}

// Low reports whether remaining dropped below threshold
func (s RateStatus) Low(threshold int) bool {
	return s.Known && s.Remaining < threshold
}

func rateStatusFrom(resp *github.Response) RateStatus {
	if resp == nil || resp.Response == nil || resp.Header.Get(headerRateRemaining) == "" {
		return RateStatus{}
	}
	return RateStatus{
		Limit:     resp.Rate.Limit,
		Remaining: resp.Rate.Remaining,
		Reset:     resp.Rate.Reset.Time,
		Known:     true,
	}
}

// pacer spaces requests out across all credentials of a session.
// A nil pacer never waits.
type pacer struct {
	limiter *rate.Limiter
}

func newPacer(requestsPerSecond float64) *pacer {
	if requestsPerSecond <= 0 {
		return nil
	}
	return &pacer{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1)}
}

// Wait blocks until the next request may be issued
func (p *pacer) Wait(ctx context.Context) error {
	if p == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
