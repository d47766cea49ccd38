package globalconfig

import (
	"os"
	"path/filepath"
)

const (
	// ConfigDirName is the name of the config directory under ~/.config.
	ConfigDirName = "amify"
	// ConfigFileName is the name of the main config file.
	ConfigFileName = "config.yaml"
	// StateDirName is the name of the state subdirectory.
	StateDirName = "state"
	// HistoryFileName is the name of the build history file.
	HistoryFileName = "history.json"
	// KeysDirName holds private keys kept after failed builds.
	KeysDirName = "keys"
)

// GetConfigDir returns the config directory path (~/.config/amify).
// Respects XDG_CONFIG_HOME if set.
func GetConfigDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, ConfigDirName), nil
}

// GetConfigPath returns the full path to the config file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetStateDir returns the path to the state directory.
func GetStateDir() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, StateDirName), nil
}

// GetHistoryPath returns the path to the build history file.
func GetHistoryPath() (string, error) {
	stateDir, err := GetStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, HistoryFileName), nil
}

// GetKeysDir returns the directory for retained build keys.
func GetKeysDir() (string, error) {
	stateDir, err := GetStateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(stateDir, KeysDirName), nil
}

// EnsureConfigDir creates the config and state directories if they don't exist.
func EnsureConfigDir() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}
	stateDir, err := GetStateDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(stateDir, 0755)
}
