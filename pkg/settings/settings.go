// Package settings resolves runtime configuration from the environment and
// an optional config file.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/providers/provider"
)

// Built-in defaults.
const (
	DefaultProvider        = provider.DeepSeek
	DefaultModel           = "deepseek-chat"
	DefaultMaxPromptLength = 10000
	DefaultMaxTestLength   = 5000
	DefaultTimeout         = 60 * time.Second
	DefaultAddr            = ":8080"
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = time.Second
)

// ProviderSettings holds the endpoint and credentials for one backend.
type ProviderSettings struct {
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"` //nolint:gosec // configuration field, not a hardcoded secret
	Timeout int    `json:"timeout" yaml:"timeout" toml:"timeout"` // Seconds; 0 selects DefaultTimeout.
}

// TimeoutDuration returns the per-call timeout.
func (p ProviderSettings) TimeoutDuration() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return time.Duration(p.Timeout) * time.Second
}

// RetrySettings controls the retry wrapper around the client.
type RetrySettings struct {
	MaxRetries        int    `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	BaseDelay         string `json:"base_delay" yaml:"base_delay" toml:"base_delay"` // Duration string, e.g. "500ms".
	RequestsPerMinute int    `json:"requests_per_minute" yaml:"requests_per_minute" toml:"requests_per_minute"`
}

// Delay parses BaseDelay, falling back to DefaultRetryDelay.
func (r RetrySettings) Delay() time.Duration {
	if d, err := time.ParseDuration(r.BaseDelay); err == nil && d > 0 {
		return d
	}
	return DefaultRetryDelay
}

// Settings is the resolved application configuration.
// Zero values mean "unspecified" and are replaced by defaults in Resolve.
type Settings struct {
	DefaultProvider string                      `json:"default_provider" yaml:"default_provider" toml:"default_provider"`
	DefaultModel    string                      `json:"default_model" yaml:"default_model" toml:"default_model"`
	MaxPromptLength int                         `json:"max_prompt_length" yaml:"max_prompt_length" toml:"max_prompt_length"`
	MaxTestLength   int                         `json:"max_test_length" yaml:"max_test_length" toml:"max_test_length"`
	MergePolicy     string                      `json:"merge_policy" yaml:"merge_policy" toml:"merge_policy"`
	CatalogFile     string                      `json:"catalog_file" yaml:"catalog_file" toml:"catalog_file"`
	LogLevel        string                      `json:"log_level" yaml:"log_level" toml:"log_level"`
	Addr            string                      `json:"addr" yaml:"addr" toml:"addr"`
	CORSOrigins     []string                    `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	Retry           RetrySettings               `json:"retry" yaml:"retry" toml:"retry"`
	Providers       map[string]ProviderSettings `json:"providers" yaml:"providers" toml:"providers"`
}

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// FromEnv reads settings from environment variables: DEFAULT_PROVIDER,
// DEFAULT_MODEL, MAX_PROMPT_LENGTH, MAX_TEST_LENGTH, MERGE_POLICY,
// CATALOG_FILE, LOG_LEVEL, HTTP_ADDR, CORS_ORIGINS, MAX_RETRIES,
// RETRY_BASE_DELAY, REQUESTS_PER_MINUTE and, per provider, <P>_BASE_URL,
// <P>_API_KEY and <P>_TIMEOUT.
func FromEnv(lookup LookupFunc) (Settings, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	var s Settings
	var err error

	s.DefaultProvider = get("DEFAULT_PROVIDER")
	s.DefaultModel = get("DEFAULT_MODEL")
	s.MergePolicy = get("MERGE_POLICY")
	s.CatalogFile = get("CATALOG_FILE")
	s.LogLevel = get("LOG_LEVEL")
	s.Addr = get("HTTP_ADDR")
	s.Retry.BaseDelay = get("RETRY_BASE_DELAY")
	if v := get("CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				s.CORSOrigins = append(s.CORSOrigins, o)
			}
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_PROMPT_LENGTH", &s.MaxPromptLength},
		{"MAX_TEST_LENGTH", &s.MaxTestLength},
		{"MAX_RETRIES", &s.Retry.MaxRetries},
		{"REQUESTS_PER_MINUTE", &s.Retry.RequestsPerMinute},
	}
	for _, f := range ints {
		if *f.dst, err = envInt(get, f.key); err != nil {
			return Settings{}, err
		}
	}

	for _, id := range provider.All() {
		prefix := id.EnvPrefix()
		ps := ProviderSettings{
			BaseURL: get(prefix + "_BASE_URL"),
			APIKey:  get(prefix + "_API_KEY"),
		}
		if ps.Timeout, err = envInt(get, prefix+"_TIMEOUT"); err != nil {
			return Settings{}, err
		}
		if ps == (ProviderSettings{}) {
			continue
		}
		if s.Providers == nil {
			s.Providers = make(map[string]ProviderSettings)
		}
		s.Providers[string(id)] = ps
	}

	return s, nil
}

func envInt(get func(string) string, key string) (int, error) {
	v := get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Configuration("%s: expected an integer, got %q", key, v)
	}
	return n, nil
}

// LoadFile reads a config file, choosing the decoder by extension (.yaml,
// .yml, .toml, .json). Environment variables referenced as ${VAR} are
// expanded before parsing so secrets can stay out of the file.
func LoadFile(path string) (Settings, error) {
	var s Settings
	if path == "" {
		return s, apperr.Configuration("settings: empty config path")
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return s, &apperr.ConfigurationError{Msg: "settings: load config", Err: err}
	}

	expanded := []byte(os.ExpandEnv(string(data)))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(expanded, &s)
	case ".json":
		err = json.Unmarshal(expanded, &s)
	case ".toml":
		err = toml.Unmarshal(expanded, &s)
	default:
		return s, apperr.Configuration("settings: unsupported config extension %q", ext)
	}
	if err != nil {
		return Settings{}, &apperr.ConfigurationError{Msg: "settings: parse config", Err: err}
	}

	return s, nil
}

// Load merges the environment with an optional config file (file wins) and
// returns resolved, validated settings.
func Load(path string, lookup LookupFunc) (Settings, error) {
	s, err := FromEnv(lookup)
	if err != nil {
		return Settings{}, err
	}

	if path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return Settings{}, err
		}
		s = s.Overlay(f)
	}

	s = s.Resolve()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// Overlay returns s with every non-zero field of o applied on top. Provider
// entries are merged field by field.
func (s Settings) Overlay(o Settings) Settings {
	out := s
	setString(&out.DefaultProvider, o.DefaultProvider)
	setString(&out.DefaultModel, o.DefaultModel)
	setString(&out.MergePolicy, o.MergePolicy)
	setString(&out.CatalogFile, o.CatalogFile)
	setString(&out.LogLevel, o.LogLevel)
	setString(&out.Addr, o.Addr)
	setString(&out.Retry.BaseDelay, o.Retry.BaseDelay)
	setInt(&out.MaxPromptLength, o.MaxPromptLength)
	setInt(&out.MaxTestLength, o.MaxTestLength)
	setInt(&out.Retry.MaxRetries, o.Retry.MaxRetries)
	setInt(&out.Retry.RequestsPerMinute, o.Retry.RequestsPerMinute)
	if len(o.CORSOrigins) > 0 {
		out.CORSOrigins = append([]string(nil), o.CORSOrigins...)
	}

	out.Providers = make(map[string]ProviderSettings, len(s.Providers)+len(o.Providers))
	for k, v := range s.Providers {
		out.Providers[k] = v
	}
	for k, v := range o.Providers {
		cur := out.Providers[k]
		setString(&cur.BaseURL, v.BaseURL)
		setString(&cur.APIKey, v.APIKey)
		setInt(&cur.Timeout, v.Timeout)
		out.Providers[k] = cur
	}

	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// Resolve fills unspecified fields with their defaults.
func (s Settings) Resolve() Settings {
	out := s.Overlay(Settings{})
	if out.DefaultProvider == "" {
		out.DefaultProvider = string(DefaultProvider)
	}
	if out.DefaultModel == "" && out.DefaultProvider == string(DefaultProvider) {
		out.DefaultModel = DefaultModel
	}
	if out.MaxPromptLength == 0 {
		out.MaxPromptLength = DefaultMaxPromptLength
	}
	if out.MaxTestLength == 0 {
		out.MaxTestLength = DefaultMaxTestLength
	}
	if out.MergePolicy == "" {
		out.MergePolicy = string(genconfig.PolicyExplicit)
	}
	if out.LogLevel == "" {
		out.LogLevel = "info"
	}
	if out.Addr == "" {
		out.Addr = DefaultAddr
	}
	if out.Retry.MaxRetries == 0 {
		out.Retry.MaxRetries = DefaultMaxRetries
	}
	return out
}

// Validate reports the first inconsistency as a ConfigurationError.
func (s Settings) Validate() error {
	if s.DefaultProvider != "" {
		if _, err := provider.Parse(s.DefaultProvider); err != nil {
			return err
		}
	}
	if _, err := genconfig.ParsePolicy(s.MergePolicy); err != nil {
		return err
	}
	if s.MaxPromptLength < 0 {
		return apperr.Configuration("max_prompt_length must not be negative")
	}
	if s.MaxTestLength < 0 {
		return apperr.Configuration("max_test_length must not be negative")
	}
	if s.Retry.MaxRetries < 0 {
		return apperr.Configuration("retry.max_retries must not be negative")
	}
	if s.Retry.RequestsPerMinute < 0 {
		return apperr.Configuration("retry.requests_per_minute must not be negative")
	}
	if s.Retry.BaseDelay != "" {
		if _, err := time.ParseDuration(s.Retry.BaseDelay); err != nil {
			return apperr.Configuration("retry.base_delay: %v", err)
		}
	}
	for name, p := range s.Providers {
		if _, err := provider.Parse(name); err != nil {
			return err
		}
		if p.Timeout < 0 {
			return apperr.Configuration("providers.%s.timeout must not be negative", name)
		}
	}
	return nil
}

// Provider returns the settings for id with the default base URL filled in.
func (s Settings) Provider(id provider.ID) ProviderSettings {
	ps := s.Providers[string(id)]
	if ps.BaseURL == "" {
		ps.BaseURL = id.DefaultBaseURL()
	}
	return ps
}

// Available reports whether id has usable configuration: a base URL for
// self-hosted backends, an API key for hosted ones.
func (s Settings) Available(id provider.ID) bool {
	ps := s.Provider(id)
	if ps.BaseURL == "" {
		return false
	}
	return !id.RequiresAPIKey() || ps.APIKey != ""
}

// AvailableProviders returns every provider with usable configuration, in
// provider.All order.
func (s Settings) AvailableProviders() []provider.ID {
	var out []provider.ID
	for _, id := range provider.All() {
		if s.Available(id) {
			out = append(out, id)
		}
	}
	return out
}

// Policy returns the parsed merge policy, defaulting to explicit.
func (s Settings) Policy() genconfig.MergePolicy {
	p, err := genconfig.ParsePolicy(s.MergePolicy)
	if err != nil {
		return genconfig.PolicyExplicit
	}
	return p
}

// DefaultTarget returns the configured default provider and model. The
// provider is empty when unset or unknown.
func (s Settings) DefaultTarget() (provider.ID, string) {
	if s.DefaultProvider == "" {
		return "", s.DefaultModel
	}
	id, err := provider.Parse(s.DefaultProvider)
	if err != nil {
		return "", s.DefaultModel
	}
	return id, s.DefaultModel
}
