package token

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"helphub/cmd/chatctl/internal"
	"helphub/internal/config"
	"helphub/internal/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenCommand(t *testing.T) {
	cmd := NewTokenCommand(&internal.Config{})

	require.NotNil(t, cmd)
	assert.Equal(t, "token", cmd.Use)
	assert.True(t, cmd.HasExample())
	assert.NotNil(t, cmd.RunE)

	for _, name := range []string{"user", "ttl", "raw", "secret"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}

func TestMint_AcceptedByServerVerifier(t *testing.T) {
	signed, err := Mint("s3cret", "helphub-auth", "helphub", 42, time.Minute)
	require.NoError(t, err)

	v := middleware.NewTokenVerifier(&config.Config{
		JWTSecret:   "s3cret",
		JWTIssuer:   "helphub-auth",
		JWTAudience: "helphub",
	})
	claims, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.NotEmpty(t, claims.JTI)

	_, err = middleware.NewTokenVerifier(&config.Config{JWTSecret: "other"}).Verify(signed)
	assert.ErrorIs(t, err, middleware.ErrInvalidToken)
}

func TestMint_Rejects(t *testing.T) {
	_, err := Mint("", "", "", 1, time.Minute)
	assert.Error(t, err)

	_, err = Mint("s3cret", "", "", 0, time.Minute)
	assert.Error(t, err)
}

func TestTokenCommand_Output(t *testing.T) {
	cfg := &internal.Config{JWTSecret: "s3cret", Output: "json"}

	var out bytes.Buffer
	cmd := NewTokenCommand(cfg)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--user", "7"})
	require.NoError(t, cmd.Execute())

	var body struct {
		Token  string `json:"token"`
		UserID uint   `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Equal(t, uint(7), body.UserID)
	assert.Equal(t, 2, strings.Count(body.Token, "."))

	out.Reset()
	cmd = NewTokenCommand(cfg)
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--user", "7", "--raw"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out.String()), "."))
}
