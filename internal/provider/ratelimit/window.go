package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultKey is the quota key used when callers do not partition quota.
const DefaultKey = "default"

// Scope names one of the two fixed windows.
type Scope string

const (
	ScopeShort Scope = "short"
	ScopeLong  Scope = "long"
)

// Window configures one fixed window: at most Limit requests per Duration.
type Window struct {
	Limit    int
	Duration time.Duration
}

// Limits configures both windows.
type Limits struct {
	Short Window
	Long  Window
}

// DefaultLimits matches the upstream free plan: 20 per minute, 500 per 30 days.
func DefaultLimits() Limits {
	return Limits{
		Short: Window{Limit: 20, Duration: time.Minute},
		Long:  Window{Limit: 500, Duration: 30 * 24 * time.Hour},
	}
}

func (l Limits) window(s Scope) Window {
	if s == ScopeShort {
		return l.Short
	}
	return l.Long
}

func reasonFor(s Scope) string {
	if s == ScopeShort {
		return "Minute rate limit exceeded"
	}
	return "Monthly rate limit exceeded"
}

// Decision is the result of CanMakeRequest.
type Decision struct {
	Allowed    bool
	Scope      Scope
	Reason     string
	RetryAfter time.Duration
}

// Err converts a denial into an *ExceededError. It returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &ExceededError{Scope: d.Scope, Reason: d.Reason, RetryAfter: d.RetryAfter}
}

// Usage reports current counts for both windows alongside their limits.
// JSON names follow the public rateLimit block of the API.
type Usage struct {
	ShortUsage int `json:"minuteUsage"`
	ShortLimit int `json:"minuteLimit"`
	LongUsage  int `json:"monthUsage"`
	LongLimit  int `json:"monthLimit"`
}

// Limiter is a dual fixed-window quota tracker.
// CanMakeRequest never mutates state; RecordRequest is the only mutator.
type Limiter interface {
	CanMakeRequest(ctx context.Context, key string) (Decision, error)
	RecordRequest(ctx context.Context, key string) error
	Usage(ctx context.Context, key string) (Usage, error)
	Reset(ctx context.Context) error
}

// ErrQuotaExceeded matches any *ExceededError with errors.Is.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ExceededError is returned when a window is exhausted.
type ExceededError struct {
	Scope      Scope
	Reason     string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s (retry after %ds)", e.Reason, e.RetryAfterSeconds())
}

func (e *ExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// RetryAfterSeconds rounds the retry hint up to whole seconds.
func (e *ExceededError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}
