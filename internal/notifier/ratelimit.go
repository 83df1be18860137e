package notifier

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/carealert/internal/clock"
)

// RateLimiter caps outgoing notifications with a token bucket that refills
// MaxPerWindow tokens per Window.
type RateLimiter struct {
	limiter *rate.Limiter
	clock   clock.Clock
	config  RateLimitConfig
	allowed atomic.Int64
	dropped atomic.Int64
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	MaxPerWindow int           `yaml:"max_per_window" toml:"max_per_window"`
	Window       time.Duration `yaml:"window" toml:"window"`
	Enabled      bool          `yaml:"enabled" toml:"enabled"`
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxPerWindow: 10,
		Window:       time.Minute,
		Enabled:      true,
	}
}

// NewRateLimiter creates a rate limiter. A nil clock uses the system clock.
func NewRateLimiter(config RateLimitConfig, c clock.Clock) *RateLimiter {
	if config.MaxPerWindow <= 0 {
		config.MaxPerWindow = 10
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if c == nil {
		c = clock.Real{}
	}

	every := config.Window / time.Duration(config.MaxPerWindow)
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(every), config.MaxPerWindow),
		clock:   c,
		config:  config,
	}
}

// Allow reports whether one more notification may be sent now.
func (r *RateLimiter) Allow() bool {
	if !r.config.Enabled {
		r.allowed.Add(1)
		return true
	}
	if r.limiter.AllowN(r.clock.Now(), 1) {
		r.allowed.Add(1)
		return true
	}
	r.dropped.Add(1)
	return false
}

// Dropped returns the number of notifications refused.
func (r *RateLimiter) Dropped() int64 {
	return r.dropped.Load()
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	return RateLimitStats{
		Allowed:      r.allowed.Load(),
		Dropped:      r.dropped.Load(),
		MaxPerWindow: r.config.MaxPerWindow,
		Window:       r.config.Window,
		Enabled:      r.config.Enabled,
	}
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Allowed      int64         `json:"allowed"`
	Dropped      int64         `json:"dropped"`
	MaxPerWindow int           `json:"max_per_window"`
	Window       time.Duration `json:"window"`
	Enabled      bool          `json:"enabled"`
}
