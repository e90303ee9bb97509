package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/therapy-booking/pkg/auth"
	"github.com/you/therapy-booking/pkg/config"
	"github.com/you/therapy-booking/services/payments-engine/internal/testutil"
)

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(a)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenIsOfflineAndVerifiable(t *testing.T) {
	out, err := run(t, &app{}, "token", "--secret", "s3cret", "--sub", "alice")
	require.NoError(t, err)

	claims, err := auth.NewVerifier("s3cret").ParseValidate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Sub)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestTokenNeedsSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := run(t, &app{}, "token")
	assert.Error(t, err)
}

func TestOutboxRequeueUnknownItem(t *testing.T) {
	a := &app{store: testutil.NewStore(t), log: testutil.Logger(), cfg: config.Engine{Policy: testutil.Policy()}}
	_, err := run(t, a, "outbox", "requeue", "missing")
	assert.ErrorContains(t, err, "not a failed outbox item")

	out, err := run(t, a, "outbox", "failed")
	require.NoError(t, err)
	assert.Empty(t, out)
}
