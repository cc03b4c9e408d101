// Package limiter throttles repeated authentication failures per client.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter tracks failed attempts per (subject, client) pair and blocks a
// pair for a while once it failed too often within a window.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and, if not, for how long it stays blocked.
	Allow(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error)
	// Success resets the counters of the pair.
	Success(ctx context.Context, subject string, ipHash []byte) error
	// Failure records a failed attempt and reports whether the pair is now blocked.
	Failure(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error)
}

// Policy is the window and threshold shared by the implementations.
type Policy struct {
	Window   time.Duration // failures older than this are forgotten
	MaxFails int
	BlockFor time.Duration
}

// DefaultPolicy allows five failures per 15 minutes, then blocks for 15 minutes.
var DefaultPolicy = Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
