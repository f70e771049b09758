// Package config loads service configuration from the environment, with an
// optional .env file and YAML indicator file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tastream/internal/indicator"
	"tastream/internal/ta"
)

// DefaultIndicators is used when neither INDICATOR_FILE nor INDICATOR_CONFIGS
// is set.
const DefaultIndicators = "SMA:20,EMA:9,EMA:21,DEMA:10,TEMA:10,T3:5:0.7,TRIMA:10,WMA:10,KAMA:10,MIDPOINT:14,MIDPRICE:14,SAR:0.02:0.2,HT_TRENDLINE"

// Config holds all service configuration.
type Config struct {
	LogLevel string
	Backend  string // indicator backend, "native" or "reference"

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	HTTPAddr      string // /reload, /healthz and /ws

	// Stream consumption
	ConsumerGroup   string
	ConsumerName    string // empty means generate one
	SubscribeTokens string // "exchange:token,..."; empty means discover
	PELIntervalS    int
	PELMinIdleMs    int64

	// Snapshots
	SnapshotKey       string
	SnapshotIntervalS int

	// Indicators
	EnabledTFs       string // comma-separated seconds, e.g. "60,300,900"
	IndicatorConfigs string // "KIND:PERIOD[:x[:y]],..." applied to every TF
	IndicatorFile    string // YAML file with per-TF indicator sets
	HistoryBars      int
	ParityShadow     bool
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is loaded first if present;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Backend:  getEnv("TA_BACKEND", "native"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/bars.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		HTTPAddr:      getEnv("INDENGINE_HTTP_ADDR", ":9095"),

		ConsumerGroup:   getEnv("CONSUMER_GROUP", "indengine"),
		ConsumerName:    getEnv("CONSUMER_NAME", ""),
		SubscribeTokens: getEnv("SUBSCRIBE_TOKENS", ""),

		SnapshotKey: getEnv("SNAPSHOT_KEY", "ind:snapshot:engine"),

		EnabledTFs:       getEnv("ENABLED_TFS", "60,300,900"),
		IndicatorConfigs: getEnv("INDICATOR_CONFIGS", DefaultIndicators),
		IndicatorFile:    getEnv("INDICATOR_FILE", ""),
	}

	var err error
	if c.PELIntervalS, err = getInt("PEL_RECLAIM_INTERVAL_SEC", 30); err != nil {
		return nil, err
	}
	minIdle, err := getInt("PEL_MIN_IDLE_MS", 60000)
	if err != nil {
		return nil, err
	}
	c.PELMinIdleMs = int64(minIdle)
	if c.SnapshotIntervalS, err = getInt("SNAPSHOT_INTERVAL_SEC", 30); err != nil {
		return nil, err
	}
	if c.HistoryBars, err = getInt("HISTORY_BARS", indicator.DefaultHistory); err != nil {
		return nil, err
	}
	if c.ParityShadow, err = getBool("PARITY_SHADOW"); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseTFs parses EnabledTFs into timeframe durations in seconds.
func (c *Config) ParseTFs() []int {
	parts := strings.Split(c.EnabledTFs, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			slog.Warn("skipping invalid TF value", "component", "config", "value", p)
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

// ParseTokenKeys parses SubscribeTokens into "exchange:token" keys.
func (c *Config) ParseTokenKeys() []string {
	var keys []string
	for _, k := range strings.Split(c.SubscribeTokens, ",") {
		k = strings.TrimSpace(k)
		if strings.Count(k, ":") != 1 || strings.HasPrefix(k, ":") || strings.HasSuffix(k, ":") {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// IndicatorSet resolves the per-TF indicator configuration: INDICATOR_FILE if
// set, otherwise INDICATOR_CONFIGS applied to every enabled TF.
func (c *Config) IndicatorSet() ([]indicator.TFIndicatorConfig, error) {
	if c.IndicatorFile != "" {
		return LoadIndicatorFile(c.IndicatorFile)
	}
	specs, err := ParseIndicatorSpecs(c.IndicatorConfigs)
	if err != nil {
		return nil, err
	}
	return PerTF(c.ParseTFs(), specs), nil
}

// PerTF applies one indicator set to every timeframe.
func PerTF(tfs []int, specs []ta.Spec) []indicator.TFIndicatorConfig {
	configs := make([]indicator.TFIndicatorConfig, len(tfs))
	for i, tf := range tfs {
		configs[i] = indicator.TFIndicatorConfig{TF: tf, Indicators: specs}
	}
	return configs
}

// ParseIndicatorSpecs parses "KIND:PERIOD[:x[:y]],..." into specs.
// Example: "SMA:20,EMA:9,T3:5:0.7,SAR:0.02:0.2,HT_TRENDLINE"
func ParseIndicatorSpecs(s string) ([]ta.Spec, error) {
	var specs []ta.Spec
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		spec, err := ta.ParseSpec(part)
		if err != nil {
			return nil, fmt.Errorf("indicator %q: %w", part, err)
		}
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("no indicators in %q", s)
	}
	return specs, nil
}

// indicatorFile is the YAML layout of INDICATOR_FILE:
//
//	timeframes:
//	  - tf: 60
//	    indicators:
//	      - {kind: EMA, period: 10}
//	      - {kind: SAR, acceleration: 0.02, maximum: 0.2}
type indicatorFile struct {
	Timeframes []indicator.TFIndicatorConfig `yaml:"timeframes"`
}

// LoadIndicatorFile reads per-TF indicator sets from a YAML file.
func LoadIndicatorFile(path string) ([]indicator.TFIndicatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indicator file: %w", err)
	}
	var f indicatorFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse indicator file %s: %w", path, err)
	}
	if len(f.Timeframes) == 0 {
		return nil, fmt.Errorf("indicator file %s: no timeframes", path)
	}
	for i := range f.Timeframes {
		for j := range f.Timeframes[i].Indicators {
			spec := &f.Timeframes[i].Indicators[j]
			kind, err := ta.ParseKind(string(spec.Kind))
			if err != nil {
				return nil, fmt.Errorf("indicator file %s: %w", path, err)
			}
			spec.Kind = kind
		}
	}
	return f.Timeframes, nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: want a positive integer, got %q", key, v)
	}
	return n, nil
}

func getBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
