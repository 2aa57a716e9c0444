package realtime

import (
	"github.com/fluxbase-eu/gqlsubs/internal/auth"
)

// JWTValidator adapts auth.JWTManager to TokenValidator
type JWTValidator struct {
	manager *auth.JWTManager
}

// NewJWTValidator creates a validator backed by manager
func NewJWTValidator(manager *auth.JWTManager) *JWTValidator {
	return &JWTValidator{manager: manager}
}

// ValidateToken validates a JWT token and returns claims
func (v *JWTValidator) ValidateToken(token string) (*TokenClaims, error) {
	claims, err := v.manager.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	return &TokenClaims{
		UserID: claims.UserID,
		Role:   claims.Role,
	}, nil
}
