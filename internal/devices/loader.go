package devices

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ProfileLoader resolves station profile names against a list of search
// paths, validates them and caches the parsed result.
type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

func (l *ProfileLoader) Load(name string) (*StationProfile, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*StationProfile), nil
	}

	var data []byte
	var err error
	var foundPath string

	for _, searchPath := range l.searchPaths {
		fullPath := filepath.Join(searchPath, name+".json")
		data, err = os.ReadFile(fullPath)
		if err == nil {
			foundPath = fullPath
			break
		}
	}

	if data == nil {
		return nil, fmt.Errorf("profile not found: %s (searched in: %v)", name, l.searchPaths)
	}

	if err := l.validator.ValidateProfile(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", foundPath, err)
	}

	var profile StationProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	l.cache.Store(name, &profile)

	return &profile, nil
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
