package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

var (
	ErrInvalidClient = errors.New("invalid client credentials")
	ErrInvalidToken  = errors.New("invalid or expired token")
)

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Issuer authenticates API clients and signs their tokens
type Issuer struct {
	secret  []byte
	ttl     time.Duration
	clients map[string]string
	now     func() time.Time
}

// NewIssuer creates an issuer for the given client id -> secret table
func NewIssuer(secret string, ttl time.Duration, clients map[string]string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Issuer{
		secret:  []byte(secret),
		ttl:     ttl,
		clients: clients,
		now:     time.Now,
	}, nil
}

// TTL is the lifetime of issued tokens
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Authenticate checks the client credentials and returns a signed token
func (i *Issuer) Authenticate(clientID, clientSecret string) (string, time.Time, error) {
	expected, ok := i.clients[clientID]
	if !ok || clientID == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(clientSecret)) != 1 {
		return "", time.Time{}, ErrInvalidClient
	}
	return i.GenerateToken(clientID)
}

// GenerateToken signs a token for clientID
func (i *Issuer) GenerateToken(clientID string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := &JWTClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken validates a JWT token and returns the claims
func (i *Issuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.ClientID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
