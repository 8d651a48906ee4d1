// Package settings manages persistent configuration for the composite
// daemons (composite-configurator, composite-worker), loadable from a YAML
// file and overridable by CLI flags.
package settings

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultStateFile is the fallback configurator snapshot path.
const DefaultStateFile = "/var/lib/composite-metrics/state.cfg"

// DefaultOutputDir is the fallback configuration-file directory.
const DefaultOutputDir = "/etc/composite-metrics/conf.d"

// DefaultLogLevel is used when neither the settings file, --log-level, nor
// BIOS_LOG_LEVEL specify one.
const DefaultLogLevel = "info"

// DefaultAssetsStream and DefaultMetricsStream name the bus streams used
// when no override is configured.
const (
	DefaultAssetsStream  = "assets"
	DefaultMetricsStream = "metrics"
)

// Settings holds persistent daemon configuration, shared by both the
// configurator and worker CLIs (each reads only the fields relevant to it).
type Settings struct {
	// OutputDir is where ConfigEmitter writes .cfg files.
	OutputDir string `yaml:"output_dir,omitempty"`

	// StateFile is the AssetStore snapshot path.
	StateFile string `yaml:"state_file,omitempty"`

	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string `yaml:"log_level,omitempty"`

	// BusEndpoint is the message-bus connection endpoint.
	BusEndpoint string `yaml:"bus_endpoint,omitempty"`

	// AssetsStream is the stream the configurator consumes asset events on.
	AssetsStream string `yaml:"assets_stream,omitempty"`

	// MetricsStream is the stream workers publish derived metrics to.
	MetricsStream string `yaml:"metrics_stream,omitempty"`

	// Propagate records whether sensor assignment propagates up the
	// container hierarchy. composite-configurator does not read it; it takes
	// propagation from its --propagate flag.
	Propagate bool `yaml:"propagate,omitempty"`

	// PortAliases maps a symbolic device path to its resolved device path,
	// e.g. "/dev/ttySTH1: /dev/ttyUSB0".
	PortAliases map[string]string `yaml:"port_aliases,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/composite-metrics-settings.yaml"
	}
	return filepath.Join(home, ".composite-metrics", "settings.yaml")
}

// Load reads settings from the default location.
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields empty
// (default-valued) settings rather than an error.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location.
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path, creating parent directories
// as needed.
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetOutputDir returns OutputDir with a fallback default.
func (s *Settings) GetOutputDir() string {
	if s.OutputDir != "" {
		return s.OutputDir
	}
	return DefaultOutputDir
}

// GetStateFile returns StateFile with a fallback default.
func (s *Settings) GetStateFile() string {
	if s.StateFile != "" {
		return s.StateFile
	}
	return DefaultStateFile
}

// GetLogLevel returns LogLevel with a fallback default.
func (s *Settings) GetLogLevel() string {
	if s.LogLevel != "" {
		return s.LogLevel
	}
	return DefaultLogLevel
}

// GetAssetsStream returns AssetsStream with a fallback default.
func (s *Settings) GetAssetsStream() string {
	if s.AssetsStream != "" {
		return s.AssetsStream
	}
	return DefaultAssetsStream
}

// GetMetricsStream returns MetricsStream with a fallback default.
func (s *Settings) GetMetricsStream() string {
	if s.MetricsStream != "" {
		return s.MetricsStream
	}
	return DefaultMetricsStream
}

// Clear resets all settings to defaults.
func (s *Settings) Clear() {
	*s = Settings{}
}
