package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nestormc/nestor/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "NESTOR"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// Load reads a single file, applies environment overrides and validates
// the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	l := NewLoader()
	if path != "" {
		l.AddLayer(path)
	}
	l.EnableValidation(true)
	return l.Load()
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Load each layer and merge using map-based approach
	for _, path := range l.layers {
		rawConfig, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		cfg, err = l.mergeFromMap(cfg, rawConfig)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	// Apply environment overrides
	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "apply environment")
	}

	// Validate if enabled
	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw loads a JSON or YAML file as a map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var rawConfig map[string]any
	format, _ := formatOf(path)
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := checkJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}
	return rawConfig, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields
// present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps merges override into base, recursing into nested sections.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if overrideMap, ok := v.(map[string]any); ok {
			if baseMap, ok := result[k].(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	var problems []error
	get := func(name string) (string, bool) {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false
		}
		if err := checkEnvValue(key, val); err != nil {
			problems = append(problems, err)
			return "", false
		}
		return val, true
	}

	// Log overrides
	if val, ok := get("LOG_LEVEL"); ok {
		cfg.Log.Level = val
	}
	if val, ok := get("LOG_FORMAT"); ok {
		cfg.Log.Format = val
	}

	// Frontend overrides
	if val, ok := get("SOCKET_ADDRESS"); ok {
		cfg.Socket.Address = val
	}
	if val, ok := get("HTTP_ADDRESS"); ok {
		cfg.HTTP.Address = val
	}
	if val, ok := get("HTTP_STATIC_DIR"); ok {
		cfg.HTTP.StaticDir = val
	}
	if val, ok := get("SESSION_EXPIRY"); ok {
		d, err := parseDurationWithDays(val)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s_SESSION_EXPIRY: %w", l.envPrefix, err))
		} else {
			cfg.Session.Expiry = Duration(d)
		}
	}

	// Storage overrides
	if val, ok := get("STORAGE_DRIVER"); ok {
		cfg.Storage.Driver = val
	}
	if val, ok := get("STORAGE_PATH"); ok {
		cfg.Storage.Path = val
	}

	// NATS overrides
	if val, ok := get("NATS_URL"); ok {
		cfg.NATS.URL = val
		cfg.NATS.Enabled = true
	}
	if val, ok := get("NATS_USERNAME"); ok {
		cfg.NATS.Username = val
	}
	if val, ok := get("NATS_PASSWORD"); ok {
		cfg.NATS.Password = val
	}
	if val, ok := get("NATS_TOKEN"); ok {
		cfg.NATS.Token = val
	}

	// Metrics overrides
	if val, ok := get("METRICS_ADDRESS"); ok {
		cfg.Metrics.Address = val
	}
	if val, ok := get("METRICS_ENABLED"); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			problems = append(problems, fmt.Errorf("%s_METRICS_ENABLED: %w", l.envPrefix, err))
		} else {
			cfg.Metrics.Enabled = enabled
		}
	}

	return errors.Join(problems...)
}

// SaveToFile saves the configuration as JSON or YAML depending on the
// file extension.
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	format, _ := formatOf(path)
	switch format {
	case "yaml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "encode configuration")
	}

	return writeConfigFile(path, data)
}
