package transfer

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("source token rejected")

type SourceClaims struct {
	SourceID  string `json:"src"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// TokenSigner issues and checks per-session source tokens.
type TokenSigner struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// NewTokenSigner returns nil when secret is empty, which disables source tokens.
func NewTokenSigner(secret, issuer string, ttl time.Duration) *TokenSigner {
	if secret == "" {
		return nil
	}
	return &TokenSigner{Secret: []byte(secret), Issuer: issuer, TTL: ttl}
}

func (s *TokenSigner) Sign(sourceID, sessionID string) (string, error) {
	now := time.Now()
	claims := SourceClaims{
		SourceID:  sourceID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.Issuer,
			Subject:  sourceID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.TTL != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.TTL))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.Secret)
}

func (s *TokenSigner) Verify(tokenStr, sourceID, sessionID string) error {
	if tokenStr == "" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &SourceClaims{}, func(t *jwt.Token) (interface{}, error) { return s.Secret, nil }, opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*SourceClaims)
	if !ok || !token.Valid {
		return fmt.Errorf("%w: invalid claims", ErrUnauthorized)
	}
	if claims.SourceID != sourceID || claims.SessionID != sessionID {
		return fmt.Errorf("%w: token bound to %s/%s", ErrUnauthorized, claims.SourceID, claims.SessionID)
	}
	return nil
}
