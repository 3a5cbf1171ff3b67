// Package config loads Shadow's process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the set of values every component reads at startup. Nothing in
// this package touches flags or files; deployment-specific wiring (k8s
// ConfigMaps, Secrets) is expected to land as environment variables.
type Config struct {
	DatabaseURL string

	AnthropicAPIKey string
	OpenAIAPIKey    string

	GitHubAppID         string
	GitHubClientID      string
	GitHubClientSecret  string
	GitHubWebhookSecret string

	KubeNamespace    string
	SandboxImage     string
	SandboxNodeSelector string

	SandboxReadyTimeout time.Duration
	CleanupInterval     time.Duration
	CleanupIdleTimeout  time.Duration

	HTTPAddr      string
	CheckpointDir string
}

// Load reads configuration from the process environment, applying
// reasonable defaults for sandbox readiness and cleanup poll/timeout
// knobs.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:         getEnv("SHADOW_DATABASE_URL", ""),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		GitHubAppID:         os.Getenv("GITHUB_APP_ID"),
		GitHubClientID:      os.Getenv("GITHUB_CLIENT_ID"),
		GitHubClientSecret:  os.Getenv("GITHUB_CLIENT_SECRET"),
		GitHubWebhookSecret: os.Getenv("GITHUB_WEBHOOK_SECRET"),
		KubeNamespace:       getEnv("SHADOW_KUBE_NAMESPACE", "shadow-tasks"),
		SandboxImage:        getEnv("SHADOW_SANDBOX_IMAGE", "ghcr.io/shadow/sandbox:latest"),
		SandboxNodeSelector: os.Getenv("SHADOW_SANDBOX_NODE_SELECTOR"),
		HTTPAddr:            getEnv("SHADOW_HTTP_ADDR", ":8080"),
		CheckpointDir:       getEnv("SHADOW_CHECKPOINT_DIR", "/var/lib/shadow/checkpoints"),
	}

	var err error
	if cfg.SandboxReadyTimeout, err = getDuration("SHADOW_SANDBOX_READY_TIMEOUT", 300*time.Second); err != nil {
		return nil, err
	}
	if cfg.CleanupInterval, err = getDuration("SHADOW_CLEANUP_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.CleanupIdleTimeout, err = getDuration("SHADOW_CLEANUP_IDLE_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: SHADOW_DATABASE_URL is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// MustAtoi parses s as an integer, returning fallback when s is empty or
// not a number. Nothing in this module calls it yet.
func MustAtoi(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
