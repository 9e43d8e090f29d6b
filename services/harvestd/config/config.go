package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the harvest indexer daemon.
type Config struct {
	ListenAddress string     `yaml:"listen"`
	NodeWS        string     `yaml:"node_ws"`
	DatabasePath  string     `yaml:"database"`
	Auth          AuthConfig `yaml:"auth"`
}

// AuthConfig describes how admin routes are authenticated. The signing secret
// is read from the named environment variable, never from the file itself.
type AuthConfig struct {
	JWTSecretEnv string   `yaml:"jwt_secret_env"`
	Issuer       string   `yaml:"issuer"`
	Audience     []string `yaml:"audience"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8646",
		NodeWS:        "ws://localhost:8645/ws/events",
		DatabasePath:  "./harvestd.db",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8646"
	}
	cfg.NodeWS = strings.TrimSpace(cfg.NodeWS)
	if cfg.NodeWS == "" {
		cfg.NodeWS = "ws://localhost:8645/ws/events"
	}
	cfg.DatabasePath = strings.TrimSpace(cfg.DatabasePath)
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "./harvestd.db"
	}
	cfg.Auth.normalize()
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if !strings.HasPrefix(cfg.NodeWS, "ws://") && !strings.HasPrefix(cfg.NodeWS, "wss://") {
		return fmt.Errorf("node_ws must be a ws:// or wss:// URL, got %q", cfg.NodeWS)
	}
	return nil
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.JWTSecretEnv = strings.TrimSpace(cfg.JWTSecretEnv)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	audience := make([]string, 0, len(cfg.Audience))
	for _, aud := range cfg.Audience {
		if trimmed := strings.TrimSpace(aud); trimmed != "" {
			audience = append(audience, trimmed)
		}
	}
	cfg.Audience = audience
}

// Secret resolves the JWT signing secret from the environment. An empty
// configuration disables the admin routes entirely.
func (cfg AuthConfig) Secret() (string, error) {
	if cfg.JWTSecretEnv == "" {
		return "", nil
	}
	value, ok := os.LookupEnv(cfg.JWTSecretEnv)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("jwt secret environment variable %s is not set", cfg.JWTSecretEnv)
	}
	return value, nil
}
