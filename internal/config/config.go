package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Storage  StorageConfig  `toml:"storage"`
	Server   ServerConfig   `toml:"server"`
	Provider ProviderConfig `toml:"provider"`
	Log      LogConfig      `toml:"log"`
}

type StorageConfig struct {
	Path string `toml:"path"`
}

type ServerConfig struct {
	Listen string `toml:"listen"`
}

type ProviderConfig struct {
	Endpoint   string `toml:"endpoint"`
	Token      string `toml:"token"`
	Model      string `toml:"model"`
	TimeoutSec int    `toml:"timeout_sec"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

func Default() *Config {
	return &Config{
		Server:   ServerConfig{Listen: "127.0.0.1:8480"},
		Provider: ProviderConfig{Model: "gpt-image-1", TimeoutSec: 120},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads the TOML config at path over the defaults. A missing file is not
// an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		applyEnv(cfg)
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("IMGVAULT_PROVIDER_ENDPOINT"); v != "" {
		cfg.Provider.Endpoint = v
	}
	if v := os.Getenv("IMGVAULT_PROVIDER_TOKEN"); v != "" {
		cfg.Provider.Token = v
	}
	if v := os.Getenv("IMGVAULT_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
}

// DefaultPath returns the platform-specific config file location.
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func configDir() (string, error) {
	// Allow override for testing
	if testDir := os.Getenv("IMGVAULT_CONFIG_DIR"); testDir != "" {
		return testDir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "imgvault"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, "imgvault"), nil
	default:
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, "imgvault"), nil
	}
}
