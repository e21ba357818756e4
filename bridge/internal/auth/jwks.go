package auth

import (
	"context"
	"fmt"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSValidator accepts asymmetric tokens whose keys are published at a JWKS
// endpoint. Keys are refreshed in the background until ctx passed to
// NewJWKSValidator is cancelled.
type JWKSValidator struct {
	issuer string
	jwks   keyfunc.Keyfunc
}

func NewJWKSValidator(ctx context.Context, jwksURL, issuer string) (*JWKSValidator, error) {
	if jwksURL == "" {
		return nil, fmt.Errorf("jwks url is required")
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}
	return &JWKSValidator{issuer: issuer, jwks: jwks}, nil
}

func (v *JWKSValidator) Name() string { return "jwks" }

func (v *JWKSValidator) Validate(ctx context.Context, tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.Parse(tokenStr, v.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if !token.Valid {
		return nil, ErrUnauthorized
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrUnauthorized
	}
	return &Identity{Subject: sub, Method: v.Name()}, nil
}
