// Package config persists local client settings: the identity key paths, the
// registered account, and the service endpoints. Settings live in config.json
// under an OS-aware data directory; a .env file or DECSECMSG_* environment
// variables override endpoints at startup.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "decsecmsg"
	// DefaultServerURL is the persistence API endpoint used when no
	// override exists.
	DefaultServerURL = "http://localhost:5000"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// ClientConfig contains persistent local client settings. UserID and Username
// stay empty until first registration.
type ClientConfig struct {
	ClientID          string `json:"client_id"`
	UserID            string `json:"user_id"`
	Username          string `json:"username"`
	ServerURL         string `json:"server_url"`
	BlobStoreURL      string `json:"blob_store_url"`
	RSAPrivateKeyPath string `json:"rsa_private_key_path"`
	RSAPublicKeyPath  string `json:"rsa_public_key_path"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If DECSECMSG_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("DECSECMSG_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, applies environment
// overrides, and returns the config with its path. A .env file in the working
// directory is loaded first when present.
func LoadOrCreate() (*ClientConfig, string, error) {
	// Missing .env is the normal case, not an error.
	_ = godotenv.Load()

	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		applyEnvOverrides(cfg)
		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *ClientConfig {
	keysDir := filepath.Join(dataDir, "keys")
	return &ClientConfig{
		ClientID:          uuid.NewString(),
		ServerURL:         DefaultServerURL,
		BlobStoreURL:      DefaultServerURL + "/api/content",
		RSAPrivateKeyPath: filepath.Join(keysDir, "rsa_private.pem"),
		RSAPublicKeyPath:  filepath.Join(keysDir, "rsa_public.pem"),
	}
}

func normalizeDefaults(cfg *ClientConfig, dataDir string) bool {
	updated := false
	keysDir := filepath.Join(dataDir, "keys")

	if cfg.ClientID == "" {
		cfg.ClientID = uuid.NewString()
		updated = true
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
		updated = true
	}

	if cfg.BlobStoreURL == "" {
		cfg.BlobStoreURL = cfg.ServerURL + "/api/content"
		updated = true
	}

	if cfg.RSAPrivateKeyPath == "" {
		cfg.RSAPrivateKeyPath = filepath.Join(keysDir, "rsa_private.pem")
		updated = true
	}

	if cfg.RSAPublicKeyPath == "" {
		cfg.RSAPublicKeyPath = filepath.Join(keysDir, "rsa_public.pem")
		updated = true
	}

	return updated
}

// applyEnvOverrides replaces endpoint and identity settings from the
// environment without persisting them.
func applyEnvOverrides(cfg *ClientConfig) {
	if value := os.Getenv("DECSECMSG_SERVER_URL"); value != "" {
		cfg.ServerURL = value
	}
	if value := os.Getenv("DECSECMSG_BLOB_STORE_URL"); value != "" {
		cfg.BlobStoreURL = value
	}
	if value := os.Getenv("DECSECMSG_USERNAME"); value != "" {
		cfg.Username = value
	}
}
