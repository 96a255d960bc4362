// Package config loads the node configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top level node configuration.
type Config struct {
	Node    Node         `toml:"Node"`
	Storage Storage      `toml:"Storage"`
	Gateway Gateway      `toml:"Gateway"`
	Market  Market       `toml:"Market"`
	Feeds   []OracleFeed `toml:"OracleFeed"`
}

// Node holds process-wide settings.
type Node struct {
	Env           string `toml:"Env"`
	ListenAddress string `toml:"ListenAddress"`
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
}

// Storage selects the database backend.
type Storage struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Gateway configures the HTTP surface.
type Gateway struct {
	JWTSecretEnv      string  `toml:"JWTSecretEnv"`
	JWTIssuer         string  `toml:"JWTIssuer"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
	LogRequests       bool    `toml:"LogRequests"`
	FeeTreasury       string  `toml:"FeeTreasury"`
}

// Market configures the built-in refinance venue.
type Market struct {
	Enabled   bool   `toml:"Enabled"`
	Name      string `toml:"Name"`
	MaxLTVBps uint64 `toml:"MaxLTVBps"`
}

// OracleFeed declares one price feed and its authorized reporter.
type OracleFeed struct {
	Pair            string `toml:"Pair"`
	Reporter        string `toml:"Reporter"`
	MaxDelaySeconds int64  `toml:"MaxDelaySeconds"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Node.Env) == "" {
		cfg.Node.Env = "dev"
	}
	if strings.TrimSpace(cfg.Node.ListenAddress) == "" {
		cfg.Node.ListenAddress = ":8680"
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		cfg.Storage.DSN = "strikelend.db"
	}
	if strings.TrimSpace(cfg.Gateway.JWTSecretEnv) == "" {
		cfg.Gateway.JWTSecretEnv = "STRIKELEND_JWT_SECRET"
	}
	if strings.TrimSpace(cfg.Gateway.JWTIssuer) == "" {
		cfg.Gateway.JWTIssuer = "strikelend"
	}
	if cfg.Gateway.RequestsPerMinute <= 0 {
		cfg.Gateway.RequestsPerMinute = 600
	}
	if cfg.Gateway.Burst <= 0 {
		cfg.Gateway.Burst = 30
	}
	if cfg.Market.Enabled && strings.TrimSpace(cfg.Market.Name) == "" {
		cfg.Market.Name = "market"
	}
	if cfg.Market.Enabled && cfg.Market.MaxLTVBps == 0 {
		cfg.Market.MaxLTVBps = 8_000
	}
}

func validate(cfg *Config) error {
	if cfg.Market.MaxLTVBps > 10_000 {
		return fmt.Errorf("config: Market.MaxLTVBps out of range: %d", cfg.Market.MaxLTVBps)
	}
	seen := make(map[string]struct{}, len(cfg.Feeds))
	for _, feed := range cfg.Feeds {
		pair := strings.ToUpper(strings.TrimSpace(feed.Pair))
		if pair == "" {
			return fmt.Errorf("config: OracleFeed requires a Pair")
		}
		if _, dup := seen[pair]; dup {
			return fmt.Errorf("config: duplicate OracleFeed %q", pair)
		}
		seen[pair] = struct{}{}
		if strings.TrimSpace(feed.Reporter) == "" {
			return fmt.Errorf("config: OracleFeed %q requires a Reporter", pair)
		}
		if feed.MaxDelaySeconds < 0 {
			return fmt.Errorf("config: OracleFeed %q has negative MaxDelaySeconds", pair)
		}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
