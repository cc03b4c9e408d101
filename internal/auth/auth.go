// Package auth issues and verifies the bearer tokens that identify session participants.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"

	"github.com/and161185/skin-sync/internal/errs"
)

// Leeway tolerates clock skew between the issuer and the coordinator.
const Leeway = 30 * time.Second

// Claims are the JWT claims used by skin-sync. Subject is the participant id.
type Claims struct {
	jwt.RegisteredClaims
	Admin bool `json:"adm,omitempty"`
}

// Identity is an authenticated caller.
type Identity struct {
	Participant string // canonical UUID string
	Admin       bool
}

// Issue signs an HS256 token for participant valid for ttl from now.
func Issue(key []byte, participant string, admin bool, ttl time.Duration, now time.Time) (string, time.Time, error) {
	id, err := uuid.FromString(participant)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("participant id: %w", errs.ErrInvalidArgument)
	}
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Admin: admin,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

// Verify checks an HS256 token and returns the identity it carries.
func Verify(key []byte, token string) (Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	}, jwt.WithLeeway(Leeway))
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("invalid token: %w", errs.ErrUnauthorized)
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("bad subject: %w", errs.ErrUnauthorized)
	}
	return Identity{Participant: id.String(), Admin: claims.Admin}, nil
}

// BearerFromMD extracts "authorization: Bearer <token>" from incoming gRPC metadata.
func BearerFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", fmt.Errorf("no metadata: %w", errs.ErrUnauthorized)
	}
	for _, v := range md.Get("authorization") {
		if t, ok := BearerToken(v); ok {
			return t, nil
		}
	}
	return "", fmt.Errorf("no bearer token: %w", errs.ErrUnauthorized)
}

// BearerToken parses an Authorization header value.
func BearerToken(header string) (string, bool) {
	v := strings.TrimSpace(header)
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(v[7:])
	return t, t != ""
}
