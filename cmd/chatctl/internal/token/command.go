// Package token mints development access tokens the API accepts.
package token

import (
	"fmt"
	"strconv"
	"time"

	"helphub/cmd/chatctl/internal"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Mint signs an HS256 token for userID the way the identity service does.
func Mint(secret, issuer, audience string, userID uint, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("a signing secret is required")
	}
	if userID == 0 {
		return "", fmt.Errorf("user id must be positive")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// NewTokenCommand prints a token for --user.
func NewTokenCommand(cfg *internal.Config) *cobra.Command {
	var user uint
	var ttl time.Duration
	var raw bool

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development access token",
		Args:  cobra.NoArgs,
		Example: `  CHATCTL_JWT_SECRET=dev-secret chatctl token --user 1
  export CHATCTL_TOKEN=$(chatctl token --user 1 --raw)`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signed, err := Mint(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, user, ttl)
			if err != nil {
				return err
			}
			if raw {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
				return err
			}
			return internal.Print(cmd.OutOrStdout(), cfg.Output, map[string]any{
				"token":     signed,
				"userId":    user,
				"expiresAt": time.Now().Add(ttl).UTC(),
			})
		},
	}
	cmd.Flags().UintVar(&user, "user", 0, "user id to put in sub")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&raw, "raw", false, "print only the token")
	cmd.Flags().StringVar(&cfg.JWTSecret, "secret", cfg.JWTSecret, "HS256 secret (CHATCTL_JWT_SECRET)")
	return cmd
}
