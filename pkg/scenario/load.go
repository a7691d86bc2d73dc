package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseJSON decodes and validates a profile from JSON.
func ParseJSON(data []byte) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("decode scenario profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// ParseYAML decodes and validates a profile from YAML.
func ParseYAML(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("decode scenario profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LoadProfile reads a profile file, dispatching on the extension
// (.yaml/.yml or .json).
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path) // #nosec G304 - caller-supplied profile path
	if err != nil {
		return Profile{}, fmt.Errorf("read scenario profile: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return Profile{}, fmt.Errorf("scenario profile %s: unsupported extension (want .json, .yaml or .yml)", path)
	}
}
