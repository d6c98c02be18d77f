package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"searchveil/rewrite"
)

// VocabularyFile is the file name searched for in the XDG config directories.
const VocabularyFile = "vocabulary.yaml"

// XDGConfigDir returns the per-user config directory for the service.
// On Linux: ~/.config/searchveil
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// FindVocabulary resolves the vocabulary file. An explicit path must exist.
// Otherwise the XDG config directories are searched and "" means none was
// found, in which case the built-in vocabulary applies.
func FindVocabulary(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("%w: %s", ErrVocabularyNotFound, explicit)
			}
			return "", err
		}
		return explicit, nil
	}
	path, err := xdg.SearchConfigFile(filepath.Join(AppName, VocabularyFile))
	if err != nil {
		return "", nil
	}
	return path, nil
}

// LoadVocabulary returns the vocabulary overlay found by FindVocabulary, or
// the built-in vocabulary, along with the path it was read from.
func LoadVocabulary(explicit string) (*rewrite.Vocabulary, string, error) {
	path, err := FindVocabulary(explicit)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return rewrite.DefaultVocabulary(), "", nil
	}
	v, err := rewrite.LoadVocabulary(path)
	if err != nil {
		return nil, path, err
	}
	return v, path, nil
}
