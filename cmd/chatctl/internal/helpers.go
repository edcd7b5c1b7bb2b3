// Package internal holds what every chatctl command shares: environment
// config, output formatting and signal handling.
package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"helphub/internal/chatclient"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is read from CHATCTL_* environment variables. Flags override it.
type Config struct {
	URL               string `env:"CHATCTL_URL"                 envDefault:"http://localhost:8375"`
	Token             string `env:"CHATCTL_TOKEN"`
	Output            string `env:"CHATCTL_OUTPUT"              envDefault:"json"`
	JWTSecret         string `env:"CHATCTL_JWT_SECRET"`
	JWTIssuer         string `env:"CHATCTL_JWT_ISSUER"`
	JWTAudience       string `env:"CHATCTL_JWT_AUDIENCE"`
	NATSURL           string `env:"CHATCTL_NATS_URL"            envDefault:"nats://localhost:4222"`
	NATSStream        string `env:"CHATCTL_NATS_STREAM"         envDefault:"CHAT_MESSAGES"`
	NATSSubjectPrefix string `env:"CHATCTL_NATS_SUBJECT_PREFIX" envDefault:"chat.messages"`
}

// LoadConfig parses the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("read CHATCTL_* environment: %w", err)
	}
	return cfg, nil
}

// Client builds a REST client from cfg.
func (c *Config) Client() (*chatclient.Client, error) {
	api, err := chatclient.NewClient(c.URL)
	if err != nil {
		return nil, err
	}
	api.SetToken(c.Token)
	return api, nil
}

// RequireToken fails when no token is configured.
func (c *Config) RequireToken() error {
	if c.Token == "" {
		return fmt.Errorf("no token: set CHATCTL_TOKEN or pass --token (see chatctl token)")
	}
	return nil
}

// Print writes v as JSON or YAML. YAML keeps the JSON field names.
func Print(w io.Writer, format string, v any) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "jsonl":
		return json.NewEncoder(w).Encode(v)
	case "yaml", "yml":
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q (json, jsonl, yaml)", format)
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
