package auth

import (
	"context"
	"fmt"

	"github.com/jcc-labs/jcc/bridge/internal/config"
)

// New creates the Validator selected by cfg.Mode. ctx bounds background work
// such as JWKS refresh.
func New(ctx context.Context, cfg config.AuthConfig) (Validator, error) {
	switch cfg.Mode {
	case "", config.AuthStatic:
		return NewStaticValidator(cfg.Token, cfg.TokenHash), nil
	case config.AuthJWT:
		return NewJWTValidator(cfg.JWTSecret, cfg.Issuer), nil
	case config.AuthJWKS:
		return NewJWKSValidator(ctx, cfg.JWKSURL, cfg.Issuer)
	default:
		return nil, fmt.Errorf("unknown auth mode: %q", cfg.Mode)
	}
}
