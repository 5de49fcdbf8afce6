package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OptionType represents the expected type of a configuration option value.
type OptionType string

const (
	// TypeString is a plain string value (the default for all config values).
	TypeString OptionType = "string"
	// TypeBool is a boolean value (true/false/yes/no/1/0/on/off).
	TypeBool OptionType = "bool"
	// TypeInt is an integer value.
	TypeInt OptionType = "int"
	// TypeDuration is a Go time.Duration value (e.g. "30s", "5m", "1h").
	TypeDuration OptionType = "duration"
)

// ConfigOption declares a single configuration option with its type,
// default, documentation, and environment variable override.
type ConfigOption struct {
	// Key is the option name as it appears in the config file.
	Key string
	// Type is the expected value type for validation.
	Type OptionType
	// Default is the default value as a string, or "" for no default.
	Default string
	// Description is a human-readable description of the option.
	Description string
	// EnvVar is the environment variable that overrides this option, or "".
	EnvVar string
}

// ConfigSchema declares the expected configuration options. It is used for
// validation, documentation, and env var mapping.
type ConfigSchema struct {
	options []*ConfigOption
	byKey   map[string]*ConfigOption
}

// NewSchema creates a new empty ConfigSchema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{byKey: make(map[string]*ConfigOption)}
}

// Register adds a ConfigOption to the schema. Duplicate keys are silently
// overwritten (last registration wins).
func (s *ConfigSchema) Register(opt ConfigOption) {
	ref := new(ConfigOption)
	*ref = opt
	s.options = append(s.options, ref)
	s.byKey[opt.Key] = ref
}

// RegisterAll adds multiple ConfigOptions to the schema.
func (s *ConfigSchema) RegisterAll(opts []ConfigOption) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the ConfigOption for a key, or nil if not registered.
func (s *ConfigSchema) Lookup(key string) *ConfigOption {
	return s.byKey[key]
}

// Resolve returns the effective value for a config key by checking, in
// order: (1) the environment variable declared in the schema for this key,
// (2) the config value, (3) the schema default. Returns "" if the key is
// not found anywhere.
func (s *ConfigSchema) Resolve(c *Config, key string) string {
	opt := s.Lookup(key)
	if opt != nil && opt.EnvVar != "" {
		if v, ok := os.LookupEnv(opt.EnvVar); ok {
			return v
		}
	}
	if v, ok := c.GetGlobalOption(key); ok {
		return v
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ValidateConfig checks a loaded Config against the schema and returns a
// list of human-readable issues (empty if the config is valid).
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string
	for key, value := range c.Global {
		opt := s.Lookup(key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown option: %q (value: %q)", key, value))
			continue
		}
		if err := validateType(opt.Type, value); err != nil {
			issues = append(issues, fmt.Sprintf("option %q: %v", key, err))
		}
	}
	sort.Strings(issues)
	return issues
}

// validateType checks that a string value matches the expected OptionType.
func validateType(t OptionType, value string) error {
	switch t {
	case TypeString, "":
		return nil
	case TypeBool:
		if _, err := parseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected int, got %q", value)
		}
	case TypeDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("expected duration, got %q", value)
		}
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	return nil
}

// FormatHelp returns a formatted, human-readable reference of all
// registered options in the schema.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	b.WriteString("Options:\n")
	for _, o := range s.options {
		b.WriteString(fmt.Sprintf("  %-25s %s", o.Key, o.Description))
		parts := make([]string, 0, 3)
		if o.Type != "" && o.Type != TypeString {
			parts = append(parts, fmt.Sprintf("type: %s", o.Type))
		}
		if o.Default != "" {
			parts = append(parts, fmt.Sprintf("default: %s", o.Default))
		}
		if o.EnvVar != "" {
			parts = append(parts, fmt.Sprintf("env: %s", o.EnvVar))
		}
		if len(parts) > 0 {
			b.WriteString(fmt.Sprintf(" (%s)", strings.Join(parts, ", ")))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n[throttle] section: eventName window (e.g. \"scroll 80ms\"; 0 disables)\n")
	return b.String()
}

// DefaultSchema returns the canonical schema declaring all known host
// configuration options. This is the single source of truth for option
// names, types, defaults, descriptions, and environment variable overrides.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		{Key: "server.url", Type: TypeString, Default: "ws://127.0.0.1:8792/ws", Description: "Development server push-channel URL", EnvVar: "WEFT_SERVER_URL"},
		{Key: "bundle.url", Type: TypeString, Default: "http://127.0.0.1:8792/bundle", Description: "Bundle fetch URL (HTTP fallback)", EnvVar: "WEFT_BUNDLE_URL"},
		{Key: "dev.enabled", Type: TypeBool, Default: "true", Description: "Enable hot reload and the diagnostic overlay", EnvVar: "WEFT_DEV"},
		{Key: "storage.dir", Type: TypeString, Default: "", Description: "Directory for script-visible persistent storage", EnvVar: "WEFT_STORAGE_DIR"},
		{Key: "cache.file", Type: TypeString, Default: "", Description: "Last-known-good bundle cache file"},
		{Key: "log.level", Type: TypeString, Default: "info", Description: "Log level: debug, info, warn, error", EnvVar: "WEFT_LOG_LEVEL"},
		{Key: "log.buffer-size", Type: TypeInt, Default: "1000", Description: "In-memory diagnostic log buffer size (entries)"},
	})
	return s
}
