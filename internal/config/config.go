package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skinsight/skinsight/internal/provider"
)

// Config holds all configuration for the SkinSight service. It is built once
// at startup and never reloaded.
type Config struct {
	Port    int
	Version string

	ConfidenceThreshold float64
	ClassLabels         []string
	MaxImageBytes       int64
	CORSOrigins         []string

	Health    HealthConfig
	Providers []provider.Descriptor
	Store     StoreConfig
	Telemetry TelemetryConfig
}

type HealthConfig struct {
	StaleAfter   time.Duration
	ProbeTimeout time.Duration
}

type StoreConfig struct {
	Driver string
	Path   string

	// Retention is how long records are kept. Zero keeps them forever.
	Retention time.Duration
	// PurgeInterval is how often expired records are purged.
	PurgeInterval time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// DefaultClassLabels is the label whitelist used when CLASS_LABELS is unset.
var DefaultClassLabels = []string{
	"acne",
	"actinic keratosis",
	"atopic dermatitis",
	"basal cell carcinoma",
	"cellulitis",
	"contact dermatitis",
	"eczema",
	"hives",
	"impetigo",
	"melanoma",
	"nevus",
	"psoriasis",
	"ringworm",
	"rosacea",
	"scabies",
	"seborrheic keratosis",
	"squamous cell carcinoma",
	"tinea",
	"vitiligo",
}

// fileConfig is the optional YAML overlay named by SKINSIGHT_CONFIG.
type fileConfig struct {
	Port                int                   `yaml:"port"`
	Version             string                `yaml:"version"`
	ConfidenceThreshold *float64              `yaml:"confidence_threshold"`
	ClassLabels         []string              `yaml:"class_labels"`
	MaxImageBytes       int64                 `yaml:"max_image_bytes"`
	CORSOrigins         []string              `yaml:"cors_origins"`
	Providers           []provider.Descriptor `yaml:"providers"`
	Health              struct {
		StaleAfter   time.Duration `yaml:"stale_after"`
		ProbeTimeout time.Duration `yaml:"probe_timeout"`
	} `yaml:"health"`
	Store struct {
		Driver        string        `yaml:"driver"`
		Path          string        `yaml:"path"`
		Retention     time.Duration `yaml:"retention"`
		PurgeInterval time.Duration `yaml:"purge_interval"`
	} `yaml:"store"`
}

// Load reads configuration from defaults, the optional YAML file and then
// environment variables, each layer overriding the previous one.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("SKINSIGHT_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = envInt("SKINSIGHT_PORT", cfg.Port)
	cfg.Version = envStr("SKINSIGHT_VERSION", cfg.Version)
	cfg.ConfidenceThreshold = envFloat("CONFIDENCE_THRESHOLD", cfg.ConfidenceThreshold)
	cfg.ClassLabels = envList("CLASS_LABELS", cfg.ClassLabels)
	cfg.MaxImageBytes = int64(envInt("MAX_IMAGE_BYTES", int(cfg.MaxImageBytes)))
	cfg.CORSOrigins = envList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.Health.StaleAfter = envDuration("HEALTH_STALE_AFTER", cfg.Health.StaleAfter)
	cfg.Health.ProbeTimeout = envDuration("HEALTH_PROBE_TIMEOUT", cfg.Health.ProbeTimeout)
	cfg.Store.Driver = envStr("STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.Path = envStr("STORE_PATH", cfg.Store.Path)
	cfg.Store.Retention = envDuration("STORE_RETENTION", cfg.Store.Retention)
	cfg.Store.PurgeInterval = envDuration("STORE_PURGE_INTERVAL", cfg.Store.PurgeInterval)
	cfg.Telemetry = TelemetryConfig{
		Enabled:      envBool("OTEL_ENABLED", false),
		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "skinsight"),
	}

	if cfg.Providers == nil {
		cfg.Providers = envProviders()
	} else {
		applyProviderEnv(cfg.Providers)
	}
	if order := envList("PROVIDER_ORDER", nil); len(order) > 0 {
		cfg.Providers = reorder(cfg.Providers, order)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:                8080,
		Version:             "0.1.0",
		ConfidenceThreshold: 0.15,
		ClassLabels:         DefaultClassLabels,
		MaxImageBytes:       10 << 20,
		CORSOrigins:         []string{"*"},
		Health: HealthConfig{
			StaleAfter:   30 * time.Second,
			ProbeTimeout: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver:        "memory",
			Path:          "data/skinsight.db",
			Retention:     30 * 24 * time.Hour,
			PurgeInterval: time.Hour,
		},
	}
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if f.Port != 0 {
		c.Port = f.Port
	}
	if f.Version != "" {
		c.Version = f.Version
	}
	if f.ConfidenceThreshold != nil {
		c.ConfidenceThreshold = *f.ConfidenceThreshold
	}
	if len(f.ClassLabels) > 0 {
		c.ClassLabels = f.ClassLabels
	}
	if f.MaxImageBytes != 0 {
		c.MaxImageBytes = f.MaxImageBytes
	}
	if len(f.CORSOrigins) > 0 {
		c.CORSOrigins = f.CORSOrigins
	}
	if f.Health.StaleAfter != 0 {
		c.Health.StaleAfter = f.Health.StaleAfter
	}
	if f.Health.ProbeTimeout != 0 {
		c.Health.ProbeTimeout = f.Health.ProbeTimeout
	}
	if f.Store.Driver != "" {
		c.Store.Driver = f.Store.Driver
	}
	if f.Store.Path != "" {
		c.Store.Path = f.Store.Path
	}
	if f.Store.Retention != 0 {
		c.Store.Retention = f.Store.Retention
	}
	if f.Store.PurgeInterval != 0 {
		c.Store.PurgeInterval = f.Store.PurgeInterval
	}
	if len(f.Providers) > 0 {
		c.Providers = f.Providers
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]", c.ConfidenceThreshold)
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("max image bytes must be positive, got %d", c.MaxImageBytes)
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d has no name", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// ── Providers ───────────────────────────────────────────────

// envProviders builds the default chain: openai, huggingface and ollama for
// advice, then the image classifier.
func envProviders() []provider.Descriptor {
	return []provider.Descriptor{
		{
			Name:               "openai",
			Kind:               provider.KindOpenAI,
			Endpoint:           envStr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:              envStr("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:             envStr("OPENAI_API_KEY", ""),
			Timeout:            envDuration("OPENAI_TIMEOUT", 30*time.Second),
			RequiresCredential: true,
		},
		{
			Name:               "huggingface",
			Kind:               provider.KindHuggingFace,
			Endpoint:           envStr("HF_BASE_URL", "https://api-inference.huggingface.co"),
			Model:              envStr("HF_MODEL", "mistralai/Mistral-7B-Instruct-v0.2"),
			APIKey:             envStr("HF_API_TOKEN", ""),
			Timeout:            envDuration("HF_TIMEOUT", 60*time.Second),
			RequiresCredential: true,
			RequiresHealth:     true,
		},
		{
			Name:           "ollama",
			Kind:           provider.KindOllama,
			Endpoint:       envStr("OLLAMA_BASE_URL", "http://localhost:11434"),
			Model:          envStr("OLLAMA_MODEL", "llama3.2:3b"),
			Timeout:        envDuration("OLLAMA_TIMEOUT", 120*time.Second),
			RequiresHealth: true,
		},
		{
			Name:           "classifier",
			Kind:           provider.KindClassifier,
			Endpoint:       envStr("CLASSIFIER_URL", "http://localhost:5000"),
			Field:          envStr("CLASSIFIER_FIELD", "file"),
			APIKey:         envStr("CLASSIFIER_API_KEY", ""),
			Timeout:        envDuration("CLASSIFIER_TIMEOUT", 30*time.Second),
			RequiresHealth: true,
		},
	}
}

// credentialEnv names the variable holding each kind's credential.
var credentialEnv = map[provider.Kind]string{
	provider.KindOpenAI:      "OPENAI_API_KEY",
	provider.KindHuggingFace: "HF_API_TOKEN",
	provider.KindClassifier:  "CLASSIFIER_API_KEY",
}

// applyProviderEnv fills credentials missing from file-defined providers so
// secrets can stay out of config files.
func applyProviderEnv(ps []provider.Descriptor) {
	for i := range ps {
		if ps[i].Name == "" {
			ps[i].Name = string(ps[i].Kind)
		}
		if key, ok := credentialEnv[ps[i].Kind]; ok && ps[i].APIKey == "" {
			ps[i].APIKey = os.Getenv(key)
		}
	}
}

// reorder returns the providers named in order, followed by any providers
// not named, in their original order.
func reorder(ps []provider.Descriptor, order []string) []provider.Descriptor {
	out := make([]provider.Descriptor, 0, len(ps))
	used := make(map[string]bool, len(ps))
	for _, name := range order {
		for _, p := range ps {
			if p.Name == name && !used[name] {
				out = append(out, p)
				used[name] = true
			}
		}
	}
	for _, p := range ps {
		if !used[p.Name] {
			out = append(out, p)
		}
	}
	return out
}

// ── Env helpers ─────────────────────────────────────────────

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
