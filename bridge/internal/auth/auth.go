// Package auth validates the bearer tokens callers present to the bridge.
package auth

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrUnauthorized = errors.New("unauthorized")

// Identity is the caller a token was issued to.
type Identity struct {
	Subject string
	Method  string // validator name
}

// Validator checks a bearer token.
type Validator interface {
	Validate(ctx context.Context, token string) (*Identity, error)
	Name() string
}

// StaticValidator accepts a single shared token, either in clear or as a
// bcrypt hash. With neither configured every token is rejected.
type StaticValidator struct {
	token []byte
	hash  []byte
}

func NewStaticValidator(token, tokenHash string) *StaticValidator {
	v := &StaticValidator{}
	if token != "" {
		v.token = []byte(token)
	}
	if tokenHash != "" {
		v.hash = []byte(tokenHash)
	}
	return v
}

func (v *StaticValidator) Name() string { return "static" }

func (v *StaticValidator) Validate(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	switch {
	case v.token != nil:
		if !hmac.Equal(v.token, []byte(token)) {
			return nil, ErrUnauthorized
		}
	case v.hash != nil:
		if bcrypt.CompareHashAndPassword(v.hash, []byte(token)) != nil {
			return nil, ErrUnauthorized
		}
	default:
		return nil, ErrUnauthorized
	}
	return &Identity{Subject: "bridge", Method: v.Name()}, nil
}

// JWTValidator accepts HS256 tokens signed with a shared secret.
type JWTValidator struct {
	secret []byte
	issuer string
}

func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), issuer: issuer}
}

func (v *JWTValidator) Name() string { return "jwt" }

func (v *JWTValidator) Validate(_ context.Context, tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrUnauthorized
	}
	return &Identity{Subject: claims.Subject, Method: v.Name()}, nil
}

// IssueToken mints an HS256 token for subject that expires after ttl.
func IssueToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	if len(secret) < 32 {
		return "", errors.New("jwt secret must be at least 32 characters")
	}
	if subject == "" {
		return "", errors.New("subject is required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        uuid.New().String(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// HashToken returns the bcrypt hash to store as auth.token_hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("token is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}
