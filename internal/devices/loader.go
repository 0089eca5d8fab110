package devices

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenGripCore/internal/types"
	"gopkg.in/yaml.v3"
)

//go:embed profiles/default.yaml
var builtinProfiles embed.FS

// DefaultProfileName resolves to the embedded reference build.
const DefaultProfileName = "default"

var ErrProfileNotFound = errors.New("profile not found")

var profileExtensions = []string{".yaml", ".yml", ".json"}

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

// Load resolves name as a file path, then as a base name in the search
// paths and finally against the embedded profiles.
func (l *ProfileLoader) Load(name string) (*types.HardwareProfile, error) {
	if name == "" {
		name = DefaultProfileName
	}

	if cached, ok := l.cache.Load(name); ok {
		return cached.(*types.HardwareProfile), nil
	}

	data, foundPath, err := l.read(name)
	if err != nil {
		return nil, err
	}

	profile, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", foundPath, err)
	}

	l.cache.Store(name, profile)
	return profile, nil
}

func (l *ProfileLoader) read(name string) ([]byte, string, error) {
	if data, err := os.ReadFile(name); err == nil {
		return data, name, nil
	}

	for _, searchPath := range l.searchPaths {
		for _, ext := range profileExtensions {
			fullPath := filepath.Join(searchPath, name+ext)
			if data, err := os.ReadFile(fullPath); err == nil {
				return data, fullPath, nil
			}
		}
	}

	embedded := "profiles/" + name + ".yaml"
	if data, err := builtinProfiles.ReadFile(embedded); err == nil {
		return data, "builtin:" + name, nil
	}

	return nil, "", fmt.Errorf("%w: %s (searched in: %v)", ErrProfileNotFound, name, l.searchPaths)
}

// Parse decodes a YAML or JSON profile, validates it against the schema
// and checks the calibration.
func (l *ProfileLoader) Parse(data []byte) (*types.HardwareProfile, error) {
	// YAML ist eine Obermenge von JSON
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert profile: %w", err)
	}

	if err := l.validator.ValidateProfile(jsonData); err != nil {
		return nil, err
	}

	var profile types.HardwareProfile
	if err := json.Unmarshal(jsonData, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	if err := checkCalibration(profile.Calibration); err != nil {
		return nil, fmt.Errorf("invalid calibration: %w", err)
	}

	return &profile, nil
}

// ProfileSummary describes one profile file found in the search paths.
type ProfileSummary struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	ID     string `json:"id,omitempty"`
	Vendor string `json:"vendor,omitempty"`
	Model  string `json:"model,omitempty"`
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
}

// List parses every profile in the search paths plus the embedded ones.
// Invalid files are reported, not skipped.
func (l *ProfileLoader) List() []ProfileSummary {
	var out []ProfileSummary

	add := func(name, path string, data []byte) {
		s := ProfileSummary{Name: name, Path: path}
		profile, err := l.Parse(data)
		if err != nil {
			s.Error = err.Error()
		} else {
			s.Valid = true
			s.ID = profile.HardwareProfile.ID
			s.Vendor = profile.HardwareProfile.Vendor
			s.Model = profile.HardwareProfile.Model
		}
		out = append(out, s)
	}

	for _, searchPath := range l.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			ext := filepath.Ext(entry.Name())
			if entry.IsDir() || !slices.Contains(profileExtensions, ext) {
				continue
			}
			path := filepath.Join(searchPath, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			add(strings.TrimSuffix(entry.Name(), ext), path, data)
		}
	}

	entries, _ := builtinProfiles.ReadDir("profiles")
	for _, entry := range entries {
		data, err := builtinProfiles.ReadFile("profiles/" + entry.Name())
		if err != nil {
			continue
		}
		add(strings.TrimSuffix(entry.Name(), ".yaml"), "builtin:"+entry.Name(), data)
	}

	return out
}
