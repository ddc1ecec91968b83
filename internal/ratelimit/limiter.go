// Package ratelimit caps how many chat requests an anonymous caller may make
// per calendar day (UTC), keyed by client IP.
package ratelimit

import (
	"context"
	"time"
)

const DefaultDailyLimit = 40

// Result is the outcome of one quota check.
type Result struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

type Limiter interface {
	// Check counts one request from ip against today's quota.
	// A denied request is not counted.
	Check(ctx context.Context, ip string) (Result, error)
}

func usageDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultDailyLimit
	}
	return limit
}
