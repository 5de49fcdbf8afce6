package config

import (
	"os"
	"path/filepath"
)

// GetConfigPath returns the configuration file path. It first checks the
// WEFT_CONFIG environment variable, then falls back to the default
// location (~/.weft/config).
func GetConfigPath() (string, error) {
	if configPath := os.Getenv("WEFT_CONFIG"); configPath != "" {
		return configPath, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".weft", "config"), nil
}

// DataDir returns the default directory for host-owned state (script
// storage, the bundle cache).
func DataDir() (string, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Dir(configPath), nil
}

// EnsureConfigDir ensures that the configuration directory exists.
func EnsureConfigDir() error {
	dir, err := DataDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
