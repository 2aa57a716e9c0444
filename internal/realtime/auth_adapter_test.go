package realtime

import (
	"testing"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTValidator(t *testing.T) {
	manager, err := auth.NewJWTManager("secret", time.Minute)
	require.NoError(t, err)
	token, _, err := manager.GenerateToken("u-1", "viewer")
	require.NoError(t, err)

	var v TokenValidator = NewJWTValidator(manager)

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, &TokenClaims{UserID: "u-1", Role: "viewer"}, claims)

	_, err = v.ValidateToken("bogus")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}
