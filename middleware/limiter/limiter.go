package limiter

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/sweetpotato0/toolchat/config"
	"github.com/sweetpotato0/toolchat/middleware"
)

// RateLimiter middleware for rate limiting conversation turns
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a token bucket that refills perMinute turns a minute
// and allows bursts of up to burst turns.
func NewRateLimiter(perMinute, burst int) (*RateLimiter, error) {
	if err := config.ValidateRateLimiterConfig(perMinute, burst); err != nil {
		return nil, err
	}
	every := rate.Every(time.Minute / time.Duration(perMinute))
	return &RateLimiter{limiter: rate.NewLimiter(every, burst)}, nil
}

// Name returns the middleware name
func (m *RateLimiter) Name() string {
	return "RateLimiter"
}

// Execute rejects the turn when no token is available
func (m *RateLimiter) Execute(ctx *middleware.Context, next middleware.Handler) error {
	if !m.limiter.Allow() {
		return middleware.ErrRateLimitExceeded
	}
	return next(ctx)
}

// Tokens reports how many turns may run right now.
func (m *RateLimiter) Tokens() float64 {
	return m.limiter.Tokens()
}
