package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress        string `toml:"ListenAddress"`
	DataDir              string `toml:"DataDir"`
	GenesisFile          string `toml:"GenesisFile"`
	Environment          string `toml:"Environment"`
	LogFile              string `toml:"LogFile"`
	OTLPEndpoint         string `toml:"OTLPEndpoint"`
	OTLPInsecure         bool   `toml:"OTLPInsecure"`
	OTLPHeaders          string `toml:"OTLPHeaders"`
	IndexerDSN           string `toml:"IndexerDSN"`
	RPCReadHeaderTimeout int    `toml:"RPCReadHeaderTimeout"`
	RPCWriteTimeout      int    `toml:"RPCWriteTimeout"`
	// BlockInterval is the number of seconds between automatic commits. A
	// negative value disables the ticker and leaves commits to chain_commit.
	BlockInterval        int    `toml:"BlockInterval"`
	Global               Global `toml:"global"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{Global: DefaultGlobal()}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
	}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg.Global); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./datalayr-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.RPCReadHeaderTimeout <= 0 {
		cfg.RPCReadHeaderTimeout = 5
	}
	if cfg.RPCWriteTimeout <= 0 {
		cfg.RPCWriteTimeout = 15
	}
	if cfg.BlockInterval == 0 {
		cfg.BlockInterval = 5
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{Global: DefaultGlobal()}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
