package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm_keypool/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestSealOpenRoundTrip(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("ENCRYPTION_PASSPHRASE", "")

	key, err := run(t, "generate-key")
	require.NoError(t, err)
	require.NotEmpty(t, key)

	ref, err := run(t, "seal", "--key", key, "sk-live-123")
	require.NoError(t, err)
	assert.NotContains(t, ref, "sk-live-123")

	plain, err := run(t, "open", "--key", key, ref)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-123", plain)
}

func TestSeal_RequiresKeyMaterial(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	t.Setenv("ENCRYPTION_PASSPHRASE", "")
	codecKey, passphrase = "", ""

	_, err := run(t, "seal", "sk-live-123")
	assert.ErrorContains(t, err, "ENCRYPTION_KEY")
}

func TestToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "ctl-secret")

	token, err := run(t, "token", "u42")
	require.NoError(t, err)

	claims, err := auth.ValidateUserJWT(token, []byte("ctl-secret"))
	require.NoError(t, err)
	assert.Equal(t, "u42", claims.UserID())
}
