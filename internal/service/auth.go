// Package service contains the durable store's application services.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"sync"

	pkgcrypto "github.com/and161185/skin-sync/internal/crypto"
	"github.com/and161185/skin-sync/internal/errs"
	"github.com/and161185/skin-sync/internal/limiter"
)

// limiterSubject is the limiter key for API key checks; there is a single key.
const limiterSubject = "api-key"

// KeyAuth checks the store API key presented by callers.
type KeyAuth interface {
	// Authenticate applies rate limiting by client address and verifies key.
	Authenticate(ctx context.Context, key, ip string) error
}

// KeyAuthImpl verifies against an argon2id hash. The digest of the last
// accepted key is remembered so steady traffic does not pay for argon2 on
// every request.
type KeyAuthImpl struct {
	hash string
	lim  limiter.Limiter

	mu       sync.RWMutex
	accepted []byte
}

// NewKeyAuth constructs KeyAuth for an encoded argon2id hash.
func NewKeyAuth(hash string, lim limiter.Limiter) *KeyAuthImpl {
	return &KeyAuthImpl{hash: hash, lim: lim}
}

// Authenticate returns errs.ErrRateLimited while the client is blocked and
// errs.ErrUnauthorized for a wrong key.
func (a *KeyAuthImpl) Authenticate(ctx context.Context, key, ip string) error {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := a.lim.Allow(ctx, limiterSubject, ipHash)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.ErrRateLimited
	}

	ok, err := a.verify(key)
	if err != nil {
		return fmt.Errorf("api key hash: %w", err)
	}
	if !ok {
		if blocked, _, ferr := a.lim.Failure(ctx, limiterSubject, ipHash); ferr == nil && blocked {
			return errs.ErrRateLimited
		}
		return errs.ErrUnauthorized
	}

	// best-effort reset
	_ = a.lim.Success(ctx, limiterSubject, ipHash)
	return nil
}

func (a *KeyAuthImpl) verify(key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	digest := sha256.Sum256([]byte(key))

	a.mu.RLock()
	known := a.accepted
	a.mu.RUnlock()
	if known != nil && subtle.ConstantTimeCompare(known, digest[:]) == 1 {
		return true, nil
	}

	ok, err := pkgcrypto.VerifyAPIKey(key, a.hash)
	if err != nil || !ok {
		return false, err
	}
	a.mu.Lock()
	a.accepted = digest[:]
	a.mu.Unlock()
	return true, nil
}
