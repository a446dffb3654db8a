package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	appDirName        = "parley"
	settingsFileName  = "settings.json"
	customModelsFile  = "custom_models.json"
	embeddingCacheDir = "rag"
)

// ResolvePath applies CLI/XDG/home fallback rules for the settings file location.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, appDirName, settingsFileName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", appDirName, settingsFileName), nil
}

// CustomModelsPath places the custom model list next to the settings file.
func CustomModelsPath(settingsPath string) string {
	return filepath.Join(filepath.Dir(settingsPath), customModelsFile)
}

// ResolveCacheDir returns the directory for derived data such as document embeddings.
func ResolveCacheDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CACHE_HOME")); xdg != "" {
		return filepath.Join(xdg, appDirName, embeddingCacheDir), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for cache fallback")
	}
	return filepath.Join(home, ".cache", appDirName, embeddingCacheDir), nil
}
