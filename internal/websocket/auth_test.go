package internal_websocket

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

func wsTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	l, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return l
}

func TestJWTTokenProvider_Claims(t *testing.T) {
	p := NewJWTTokenProvider("secret-key", "aicc-pipeline", time.Hour, wsTestLogger(t))

	signed, err := p.Token()
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (interface{}, error) {
		require.IsType(t, &jwt.SigningMethodHMAC{}, token.Method)
		return []byte("secret-key"), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "aicc-pipeline", claims["client_id"])
	perms, ok := claims["permissions"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, perms, "send_transcripts")

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp.Time, 5*time.Second)
}

func TestJWTTokenProvider_CachesToken(t *testing.T) {
	p := NewJWTTokenProvider("secret", "c", time.Hour, wsTestLogger(t))
	first, err := p.Token()
	require.NoError(t, err)
	second, err := p.Token()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestJWTTokenProvider_RefreshesNearExpiry(t *testing.T) {
	// TTL below the refresh margin: every call is within 5 minutes of
	// expiry, so a fresh token is minted each time.
	p := NewJWTTokenProvider("secret", "c", time.Minute, wsTestLogger(t))
	first, err := p.Token()
	require.NoError(t, err)

	p.mu.Lock()
	firstExpiry := p.expiry
	p.mu.Unlock()

	time.Sleep(1100 * time.Millisecond) // iat/exp have second granularity
	second, err := p.Token()
	require.NoError(t, err)

	p.mu.Lock()
	secondExpiry := p.expiry
	p.mu.Unlock()

	assert.NotEqual(t, first, second)
	assert.True(t, secondExpiry.After(firstExpiry))
}
