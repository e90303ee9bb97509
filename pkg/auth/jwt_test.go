package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("s3cret")
	tok, err := v.CreateAccessToken("ops-1", RoleAdmin, "ops@example.com", time.Minute)
	require.NoError(t, err)

	c, err := v.ParseValidate(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops-1", c.Sub)
	assert.Equal(t, RoleAdmin, c.Role)
}

func TestVerifier_RejectsOtherSecretAndExpired(t *testing.T) {
	tok, err := NewVerifier("a").CreateAccessToken("u", RoleAdmin, "", time.Minute)
	require.NoError(t, err)
	_, err = NewVerifier("b").ParseValidate(tok)
	assert.Error(t, err)

	v := NewVerifier("a")
	expired, err := v.CreateAccessToken("u", RoleAdmin, "", -time.Minute)
	require.NoError(t, err)
	_, err = v.ParseValidate(expired)
	assert.Error(t, err)
}
