// Package models defines the data types shared across the session
// coordinator: bars, intervals, gaps, indicator state, and the per-symbol
// session records built from them.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is the time unit of an Interval tag. Hourly bars are not supported;
// callers that need an hour express it as "60m".
type Unit int

const (
	UnitSecond Unit = iota
	UnitMinute
	UnitDay
	UnitWeek
)

func (u Unit) letter() string {
	switch u {
	case UnitSecond:
		return "s"
	case UnitMinute:
		return "m"
	case UnitDay:
		return "d"
	case UnitWeek:
		return "w"
	default:
		return "?"
	}
}

func (u Unit) seconds() int64 {
	switch u {
	case UnitSecond:
		return 1
	case UnitMinute:
		return 60
	case UnitDay:
		return 86400
	case UnitWeek:
		return 604800
	default:
		return 0
	}
}

// Interval is a canonical bar/indicator granularity tag of the form
// "<N><unit>", unit in {s, m, d, w}.
type Interval struct {
	N    int
	Unit Unit
}

// ParseInterval parses a canonical interval tag such as "1m", "5m", "1d".
// Hourly tags ("1h") are rejected: express an hour as "60m".
func ParseInterval(tag string) (Interval, error) {
	if len(tag) < 2 {
		return Interval{}, fmt.Errorf("%w: interval tag %q too short", ErrInvalidInterval, tag)
	}
	letter := tag[len(tag)-1:]
	numPart := tag[:len(tag)-1]
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return Interval{}, fmt.Errorf("%w: interval tag %q has non-positive count", ErrInvalidInterval, tag)
	}
	var unit Unit
	switch strings.ToLower(letter) {
	case "s":
		unit = UnitSecond
	case "m":
		unit = UnitMinute
	case "d":
		unit = UnitDay
	case "w":
		unit = UnitWeek
	case "h":
		return Interval{}, fmt.Errorf("%w: hourly tags are not supported, use minutes (e.g. 60m)", ErrInvalidInterval)
	default:
		return Interval{}, fmt.Errorf("%w: unknown unit in tag %q", ErrInvalidInterval, tag)
	}
	return Interval{N: n, Unit: unit}, nil
}

// String renders the canonical "<N><unit>" tag.
func (iv Interval) String() string {
	return fmt.Sprintf("%d%s", iv.N, iv.Unit.letter())
}

// Seconds returns the interval's duration in seconds.
func (iv Interval) Seconds() int64 {
	return int64(iv.N) * iv.Unit.seconds()
}

// Duration returns the interval as a time.Duration.
func (iv Interval) Duration() time.Duration {
	return time.Duration(iv.Seconds()) * time.Second
}

// DerivesFrom reports whether iv is a valid aggregation target built from
// base bars b: iv's duration must be a whole, non-smaller multiple of b's.
func (iv Interval) DerivesFrom(b Interval) bool {
	bs, ds := b.Seconds(), iv.Seconds()
	if bs <= 0 || ds < bs {
		return false
	}
	return ds%bs == 0
}

// MarshalJSON renders the interval as its canonical tag string.
func (iv Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal(iv.String())
}

// UnmarshalJSON parses the interval from its canonical tag string.
func (iv *Interval) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseInterval(s)
	if err != nil {
		return err
	}
	*iv = parsed
	return nil
}

// Bar is a single OHLCV observation for a symbol at a given interval.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Interval  Interval  `json:"interval"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	VWAP      float64   `json:"vwap,omitempty"`
}

// Validate checks the structural invariants of a bar: non-empty symbol,
// high/low consistency, non-negative prices and volume, non-zero timestamp.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidSymbol)
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: high %.4f below low %.4f", ErrInvalidBar, b.High, b.Low)
	}
	if b.Open < 0 || b.High < 0 || b.Low < 0 || b.Close < 0 {
		return fmt.Errorf("%w: negative price in bar for %s", ErrInvalidBar, b.Symbol)
	}
	if b.Volume < 0 {
		return fmt.Errorf("%w: negative volume for %s", ErrInvalidVolume, b.Symbol)
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp for %s", ErrInvalidTimestamp, b.Symbol)
	}
	return nil
}

// Gap records a missing span of bars detected within a BarIntervalData
// series, expressed against the owning interval's cadence.
type Gap struct {
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	BarsMissing int       `json:"bars_missing"`
}

// BarIntervalData holds the ring-buffered bar history for one (symbol,
// interval) pair, plus the gaps detected within it.
type BarIntervalData struct {
	Interval    Interval  `json:"interval"`
	Bars        []Bar     `json:"bars"`
	Gaps        []Gap     `json:"gaps"`
	Quality     float64   `json:"quality"` // 0..100, maintained by the Quality Manager sweep
	MaxBars     int       `json:"-"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewBarIntervalData builds an empty series capped at maxBars (default 200
// if maxBars <= 0).
func NewBarIntervalData(interval Interval, maxBars int) *BarIntervalData {
	if maxBars <= 0 {
		maxBars = 200
	}
	return &BarIntervalData{
		Interval: interval,
		Bars:     make([]Bar, 0, maxBars),
		MaxBars:  maxBars,
	}
}

// Append adds a finalized bar to the series, trimming the oldest entry once
// MaxBars is exceeded, and records a Gap if bars were skipped since the
// previous latest bar.
func (d *BarIntervalData) Append(b Bar) {
	if prev, ok := d.Latest(); ok {
		if gap, isGap := detectGap(prev, b, d.Interval); isGap {
			d.Gaps = append(d.Gaps, gap)
		}
	}
	if len(d.Bars) >= d.MaxBars {
		copy(d.Bars, d.Bars[1:])
		d.Bars = d.Bars[:len(d.Bars)-1]
	}
	d.Bars = append(d.Bars, b)
	d.LastUpdated = b.Timestamp
}

func detectGap(prev, cur Bar, iv Interval) (Gap, bool) {
	step := iv.Duration()
	if step <= 0 {
		return Gap{}, false
	}
	expectedNext := prev.Timestamp.Add(step)
	if !cur.Timestamp.After(expectedNext) {
		return Gap{}, false
	}
	missing := int(cur.Timestamp.Sub(expectedNext) / step)
	if missing <= 0 {
		return Gap{}, false
	}
	return Gap{StartTime: expectedNext, EndTime: cur.Timestamp, BarsMissing: missing}, true
}

// Latest returns the most recent bar, if any.
func (d *BarIntervalData) Latest() (Bar, bool) {
	if len(d.Bars) == 0 {
		return Bar{}, false
	}
	return d.Bars[len(d.Bars)-1], true
}

// Window returns up to the last n bars, oldest first.
func (d *BarIntervalData) Window(n int) []Bar {
	if n <= 0 || len(d.Bars) == 0 {
		return nil
	}
	if n > len(d.Bars) {
		n = len(d.Bars)
	}
	out := make([]Bar, n)
	copy(out, d.Bars[len(d.Bars)-n:])
	return out
}

// IndicatorKind identifies which calculator owns an IndicatorData record.
type IndicatorKind int

const (
	IndicatorSMA IndicatorKind = iota
	IndicatorEMA
	IndicatorRSI
	IndicatorMACD
	IndicatorBollinger
	IndicatorATR
	IndicatorOBV
	IndicatorVWAP
)

func (k IndicatorKind) String() string {
	switch k {
	case IndicatorSMA:
		return "sma"
	case IndicatorEMA:
		return "ema"
	case IndicatorRSI:
		return "rsi"
	case IndicatorMACD:
		return "macd"
	case IndicatorBollinger:
		return "bbands"
	case IndicatorATR:
		return "atr"
	case IndicatorOBV:
		return "obv"
	case IndicatorVWAP:
		return "vwap"
	default:
		return "unknown"
	}
}

// IndicatorConfig parametrizes one indicator instance. Only the fields
// relevant to Kind are meaningful; it is a tagged union in spirit, kept as
// a flat struct for simple JSON (de)serialization.
type IndicatorConfig struct {
	Kind         IndicatorKind `json:"kind"`
	Interval     Interval      `json:"interval"`
	Period       int           `json:"period,omitempty"`       // SMA/EMA/RSI/ATR
	FastPeriod   int           `json:"fast_period,omitempty"`  // MACD
	SlowPeriod   int           `json:"slow_period,omitempty"`  // MACD
	SignalPeriod int           `json:"signal_period,omitempty"` // MACD
	StdDevMult   float64       `json:"stddev_mult,omitempty"`  // Bollinger
}

// ID returns the stable identifier used to key a symbol's indicator map,
// e.g. "ema_20@1m" or "macd_12_26_9@5m".
func (c IndicatorConfig) ID() string {
	switch c.Kind {
	case IndicatorMACD:
		return fmt.Sprintf("%s_%d_%d_%d@%s", c.Kind, c.FastPeriod, c.SlowPeriod, c.SignalPeriod, c.Interval)
	case IndicatorBollinger:
		return fmt.Sprintf("%s_%d@%s", c.Kind, c.Period, c.Interval)
	case IndicatorOBV, IndicatorVWAP:
		return fmt.Sprintf("%s@%s", c.Kind, c.Interval)
	default:
		return fmt.Sprintf("%s_%d@%s", c.Kind, c.Period, c.Interval)
	}
}

// WarmupBars returns the number of bars required before the indicator's
// value is considered valid.
func (c IndicatorConfig) WarmupBars() int {
	switch c.Kind {
	case IndicatorSMA, IndicatorEMA, IndicatorRSI, IndicatorATR:
		return c.Period
	case IndicatorMACD:
		return c.SlowPeriod + c.SignalPeriod
	case IndicatorBollinger:
		return c.Period
	case IndicatorOBV, IndicatorVWAP:
		return 1
	default:
		return 1
	}
}

// IndicatorData is the live state of one indicator instance attached to a
// symbol: its configuration, current output, and warmup progress.
type IndicatorData struct {
	Config    IndicatorConfig    `json:"config"`
	Values    map[string]float64 `json:"values"` // e.g. {"value": x} or {"macd": x, "signal": y, "histogram": z}
	BarsSeen  int                `json:"bars_seen"`
	Valid     bool               `json:"valid"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewIndicatorData creates an empty, not-yet-warmed indicator record.
func NewIndicatorData(cfg IndicatorConfig) *IndicatorData {
	return &IndicatorData{Config: cfg, Values: make(map[string]float64)}
}

// MarkUpdated records a computed result, flipping Valid once enough bars
// have been observed to satisfy the configured warmup.
func (d *IndicatorData) MarkUpdated(values map[string]float64, ts time.Time) {
	d.BarsSeen++
	d.Values = values
	d.UpdatedAt = ts
	d.Valid = d.BarsSeen >= d.Config.WarmupBars()
}

// SessionMetrics aggregates the observable health of one symbol's session:
// throughput, gap history, and the quality score the Quality Manager
// maintains.
type SessionMetrics struct {
	BarsProcessed  int64     `json:"bars_processed"`
	GapsDetected   int       `json:"gaps_detected"`
	BarsMissing    int       `json:"bars_missing"`
	QualityScore   float64   `json:"quality_score"` // 0..100
	LastQualitySweep time.Time `json:"last_quality_sweep"`
	LastBarTime    time.Time `json:"last_bar_time"`
}

// SymbolSessionData is the full per-symbol record held inside SessionData:
// the bar series at every provisioned interval, the indicators attached to
// the symbol, and its quality/activity metrics.
type SymbolSessionData struct {
	Symbol     string                      `json:"symbol"`
	Intervals  map[string]*BarIntervalData `json:"intervals"` // key: Interval.String()
	Indicators map[string]*IndicatorData   `json:"indicators"` // key: IndicatorConfig.ID()
	Metrics    SessionMetrics              `json:"metrics"`
	Active     bool                        `json:"active"`
	AddedAt    time.Time                   `json:"added_at"`

	// AddedBy names who requested this symbol: "config", "strategy",
	// "scanner", or "adhoc". MeetsSessionConfigRequirements is true once the
	// symbol has been fully provisioned per the session-wide config (an
	// adhoc/auto-provisioned symbol starts false). UpgradedFromAdhoc flips
	// true the moment an adhoc symbol is later upgraded by an explicit
	// add_symbol call. AutoProvisioned marks a symbol created on demand by
	// the adhoc indicator path (spec.md scenario 5) rather than by the
	// coordinator's own Phase B or an explicit add_symbol.
	AddedBy                        string `json:"added_by"`
	MeetsSessionConfigRequirements bool   `json:"meets_session_config_requirements"`
	AutoProvisioned                bool   `json:"auto_provisioned"`
	UpgradedFromAdhoc              bool   `json:"upgraded_from_adhoc"`
}

// NewSymbolSessionData creates an empty, inactive session record for a
// symbol; Active is flipped once provisioning completes.
func NewSymbolSessionData(symbol string, addedAt time.Time) *SymbolSessionData {
	return &SymbolSessionData{
		Symbol:     symbol,
		Intervals:  make(map[string]*BarIntervalData),
		Indicators: make(map[string]*IndicatorData),
		AddedAt:    addedAt,
	}
}
