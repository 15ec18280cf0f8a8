// Package config loads the session coordinator's configuration document.
// Grounded on the teacher's internal/config.Load (env-driven, godotenv for
// local secrets) but generalized to SPEC_FULL.md's structured configuration
// file: a YAML document (gopkg.in/yaml.v3, exactly what the teacher and the
// rest of the example pack use for config) decoded in strict mode so
// unrecognized keys fail startup rather than silently no-op'ing. Exchange
// credentials stay out of the YAML document and are read from the
// environment (optionally populated from a local .env via godotenv), the
// same split the teacher draws between MarketDataConfig.APIKey and the
// rest of its config tree.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/marketdata/sessioncore/internal/coreerrors"
	"github.com/marketdata/sessioncore/internal/models"
)

// Mode selects whether the coordinator replays historical bars or streams
// live ones.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeLive     Mode = "live"
)

// BacktestConfig bounds a backtest run. Ignored in live mode.
type BacktestConfig struct {
	StartDate       string `yaml:"start_date"`
	EndDate         string `yaml:"end_date"`
	SpeedMultiplier int    `yaml:"speed_multiplier"`
}

// HistoricalIntervalConfig names one interval to warm up on session start
// and how many trailing calendar days of history to load for it.
type HistoricalIntervalConfig struct {
	Interval     string `yaml:"interval"`
	TrailingDays int    `yaml:"trailing_days"`
}

// HistoricalConfig toggles and shapes pre-session historical warmup.
type HistoricalConfig struct {
	Enabled bool                       `yaml:"enabled"`
	Data    []HistoricalIntervalConfig `yaml:"data"`
}

// IndicatorSpec is one configured indicator instance, shaped the way
// spec.md §6 writes it: name/type/period/interval plus a free-form params
// bag for indicator kinds that need more than a single period (MACD,
// Bollinger).
type IndicatorSpec struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"`
	Period   int            `yaml:"period"`
	Interval string         `yaml:"interval"`
	Params   map[string]any `yaml:"params"`
}

// IndicatorsConfig separates indicators computed on the live session stream
// from those computed once against historical bars at provisioning time.
type IndicatorsConfig struct {
	Session    []IndicatorSpec `yaml:"session"`
	Historical []IndicatorSpec `yaml:"historical"`
}

// StrategySpec names a strategy module to load, its enabled flag, and its
// free-form configuration, mirroring spec.md §6's strategies list.
type StrategySpec struct {
	Module  string         `yaml:"module"`
	Enabled bool           `yaml:"enabled"`
	Config  map[string]any `yaml:"config"`
}

// SessionDataConfig is the symbol/stream/indicator/strategy shape a session
// is provisioned with at Phase B.
type SessionDataConfig struct {
	Symbols    []string         `yaml:"symbols"`
	Streams    []string         `yaml:"streams"`
	Historical HistoricalConfig `yaml:"historical"`
	Indicators IndicatorsConfig `yaml:"indicators"`
	Strategies []StrategySpec   `yaml:"strategies"`
}

// Config is the top-level document spec.md §6 names. Unrecognized keys
// fail decoding via yaml.Decoder.KnownFields(true).
type Config struct {
	Mode              Mode              `yaml:"mode"`
	BacktestConfig    BacktestConfig    `yaml:"backtest_config"`
	SessionDataConfig SessionDataConfig `yaml:"session_data_config"`
	ExchangeGroup     string            `yaml:"exchange_group"`
}

// Secrets holds exchange credentials kept out of the YAML document. Loaded
// from the environment, optionally populated by a local .env file the same
// way the teacher's Load() calls godotenv.Load() before reading env vars.
type Secrets struct {
	ExchangeAPIKey    string
	ExchangeAPISecret string
}

// LoadSecrets reads exchange credentials from the environment. A missing
// .env file is not an error: godotenv.Load is best-effort, matching the
// teacher's Load().
func LoadSecrets() Secrets {
	_ = godotenv.Load()
	return Secrets{
		ExchangeAPIKey:    os.Getenv("EXCHANGE_API_KEY"),
		ExchangeAPISecret: os.Getenv("EXCHANGE_API_SECRET"),
	}
}

// Load reads and strictly decodes the YAML configuration document at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, coreerrors.WithSymbol(coreerrors.KindConfiguration, "config", "", fmt.Errorf("open config: %w", err))
	}
	defer f.Close()
	return Decode(f)
}

// Decode strictly decodes a YAML configuration document from r, failing on
// any key the schema does not recognize.
func Decode(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return nil, coreerrors.WithSymbol(coreerrors.KindConfiguration, "config", "", fmt.Errorf("empty config document"))
		}
		return nil, coreerrors.WithSymbol(coreerrors.KindConfiguration, "config", "", fmt.Errorf("decode config: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the cross-field invariants spec.md §6/§4.4 require before
// the coordinator may start: a known mode, at least one symbol, valid
// interval tags, and (in backtest mode) a parseable date range.
func (c *Config) Validate() error {
	if c.Mode != ModeBacktest && c.Mode != ModeLive {
		return configErr(fmt.Errorf("mode must be %q or %q, got %q", ModeBacktest, ModeLive, c.Mode))
	}
	if len(c.SessionDataConfig.Symbols) == 0 {
		return configErr(fmt.Errorf("session_data_config.symbols must be non-empty"))
	}
	if len(c.SessionDataConfig.Streams) == 0 {
		return configErr(fmt.Errorf("session_data_config.streams must be non-empty"))
	}
	for _, tag := range c.SessionDataConfig.Streams {
		if _, err := models.ParseInterval(tag); err != nil {
			return configErr(fmt.Errorf("streams: %w", err))
		}
	}
	if c.Mode == ModeBacktest {
		if _, err := c.StartDate(); err != nil {
			return configErr(fmt.Errorf("backtest_config.start_date: %w", err))
		}
		if _, err := c.EndDate(); err != nil {
			return configErr(fmt.Errorf("backtest_config.end_date: %w", err))
		}
		if c.BacktestConfig.SpeedMultiplier < 0 {
			return configErr(fmt.Errorf("backtest_config.speed_multiplier must be >= 0"))
		}
	}
	return nil
}

func configErr(err error) error {
	return coreerrors.WithSymbol(coreerrors.KindConfiguration, "config", "", err)
}

const dateLayout = "2006-01-02"

// StartDate parses backtest_config.start_date in the exchange-local
// calendar day convention spec.md §6's time-manager collaborator uses.
func (c *Config) StartDate() (time.Time, error) {
	return time.Parse(dateLayout, c.BacktestConfig.StartDate)
}

// EndDate parses backtest_config.end_date the same way.
func (c *Config) EndDate() (time.Time, error) {
	return time.Parse(dateLayout, c.BacktestConfig.EndDate)
}

// Intervals parses every configured stream tag into a models.Interval.
// Validate already rejected any tag that fails to parse.
func (c *Config) Intervals() []models.Interval {
	out := make([]models.Interval, 0, len(c.SessionDataConfig.Streams))
	for _, tag := range c.SessionDataConfig.Streams {
		iv, _ := models.ParseInterval(tag)
		out = append(out, iv)
	}
	return out
}

// Indicators flattens the configured session indicators into
// models.IndicatorConfig values the provisioning executor consumes.
// Historical-only indicators (computed once at provisioning time, not
// carried on the live stream) are intentionally excluded here; a future
// indicator engine that distinguishes the two warmup paths can consume
// SessionDataConfig.Indicators.Historical directly.
func (c *Config) Indicators() ([]models.IndicatorConfig, error) {
	return parseIndicatorSpecs(c.SessionDataConfig.Indicators.Session)
}

func parseIndicatorSpecs(specs []IndicatorSpec) ([]models.IndicatorConfig, error) {
	out := make([]models.IndicatorConfig, 0, len(specs))
	for _, spec := range specs {
		iv, err := models.ParseInterval(spec.Interval)
		if err != nil {
			return nil, configErr(fmt.Errorf("indicator %q: %w", spec.Name, err))
		}
		kind, err := parseIndicatorKind(spec.Type)
		if err != nil {
			return nil, configErr(fmt.Errorf("indicator %q: %w", spec.Name, err))
		}
		cfg := models.IndicatorConfig{Kind: kind, Interval: iv, Period: spec.Period}
		if kind == models.IndicatorMACD {
			cfg.FastPeriod = intParam(spec.Params, "fast_period", 12)
			cfg.SlowPeriod = intParam(spec.Params, "slow_period", 26)
			cfg.SignalPeriod = intParam(spec.Params, "signal_period", 9)
		}
		if kind == models.IndicatorBollinger {
			cfg.StdDevMult = floatParam(spec.Params, "stddev_mult", 2.0)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func parseIndicatorKind(tag string) (models.IndicatorKind, error) {
	switch tag {
	case "sma":
		return models.IndicatorSMA, nil
	case "ema":
		return models.IndicatorEMA, nil
	case "rsi":
		return models.IndicatorRSI, nil
	case "macd":
		return models.IndicatorMACD, nil
	case "bbands", "bollinger":
		return models.IndicatorBollinger, nil
	case "atr":
		return models.IndicatorATR, nil
	case "obv":
		return models.IndicatorOBV, nil
	case "vwap":
		return models.IndicatorVWAP, nil
	default:
		return 0, fmt.Errorf("unknown indicator type %q", tag)
	}
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func floatParam(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}
