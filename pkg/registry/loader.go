package registry

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a definition file
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the encoding from the file extension; anything but .toml
// is read as YAML.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Loader handles loading model definitions
type Loader struct {
	configPath string
}

// NewLoader creates a new definition loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Path returns the file the loader reads from
func (l *Loader) Path() string {
	return l.configPath
}

// LoadDefinition loads a model definition from the configuration file.
// MODEL_CONFIG overrides the path given to NewLoader.
func (l *Loader) LoadDefinition() (*Definition, error) {
	if configPath := os.Getenv("MODEL_CONFIG"); configPath != "" {
		l.configPath = configPath
	}
	if l.configPath == "" {
		return nil, fmt.Errorf("no model definition configured: %w", os.ErrNotExist)
	}

	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model definition %s: %w", l.configPath, err)
	}

	def, err := DecodeDefinition(data, FormatOf(l.configPath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", l.configPath, err)
	}
	return def, nil
}

// LoadDefinitionFromBytes parses a YAML model definition
func LoadDefinitionFromBytes(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse YAML model definition: %w", err)
	}
	return &def, nil
}

// DecodeDefinition parses a model definition in the given format. Unknown
// TOML keys are rejected.
func DecodeDefinition(data []byte, format Format) (*Definition, error) {
	switch format {
	case FormatYAML:
		return LoadDefinitionFromBytes(data)
	case FormatTOML:
		var def Definition
		if err := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&def); err != nil {
			return nil, fmt.Errorf("failed to parse TOML model definition: %w", err)
		}
		return &def, nil
	default:
		return nil, fmt.Errorf("unsupported definition format: %s", format)
	}
}

// EncodeDefinition renders a definition in the given format
func EncodeDefinition(def *Definition, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return MarshalDefinition(def)
	case FormatTOML:
		data, err := toml.Marshal(def)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal TOML: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported definition format: %s", format)
	}
}

// SaveDefinition writes the definition to the loader's path, as TOML for a
// .toml path and YAML otherwise
func (l *Loader) SaveDefinition(def *Definition) error {
	if l.configPath == "" {
		return fmt.Errorf("no model definition path configured")
	}

	dir := filepath.Dir(l.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := EncodeDefinition(def, FormatOf(l.configPath))
	if err != nil {
		return err
	}

	if err := os.WriteFile(l.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write model definition: %w", err)
	}
	return nil
}

// MarshalDefinition renders a definition as YAML
func MarshalDefinition(def *Definition) ([]byte, error) {
	data, err := yaml.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return data, nil
}
