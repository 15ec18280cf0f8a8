// Package provisioning implements the Provisioning Executor: the
// three-phase analyze/validate/execute pipeline that turns a
// requirement.ProvisioningRequirements plan into live SessionData state for
// a symbol. Grounded on internal/scanner/rehydration.go's staged
// "load bars, then load indicators, then mark ready" flow, generalized
// from disk/Redis rehydration on process startup to on-demand provisioning
// (initial session build and mid-session symbol addition alike).
package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/marketdata/sessioncore/internal/calendar"
	"github.com/marketdata/sessioncore/internal/coreerrors"
	"github.com/marketdata/sessioncore/internal/datasource"
	"github.com/marketdata/sessioncore/internal/models"
	"github.com/marketdata/sessioncore/internal/requirement"
	"github.com/marketdata/sessioncore/internal/sessiondata"
	"github.com/marketdata/sessioncore/pkg/logger"
)

// QualityScorer computes a symbol's initial quality score once historical
// warmup has loaded, so a freshly provisioned symbol starts with a real
// score rather than the zero value. internal/qualitymanager.Manager
// satisfies this.
type QualityScorer interface {
	Score(s *models.SymbolSessionData) float64
}

// Step names one unit of the execute phase, used for logging and for the
// mid-session catch-up variant to report progress.
type Step string

const (
	StepCreateSymbol     Step = "create_symbol"
	StepAddInterval      Step = "add_interval"
	StepLoadHistorical   Step = "load_historical"
	StepRegisterIndicator Step = "register_indicator"
	StepCalculateQuality Step = "calculate_quality"
	StepActivate         Step = "activate"
)

// SymbolValidationResult is the outcome of the validate phase for one
// symbol: whether it is eligible to be provisioned, and why not if not.
type SymbolValidationResult struct {
	Symbol string
	Valid  bool
	Reason string
}

// Config controls how much historical context Execute loads and where from.
type Config struct {
	MaxBarsPerInterval int // ring-buffer cap passed to sessiondata.AppendBar
	WarmupMultiplier   float64 // load WarmupBars * Multiplier bars, to exceed the bare minimum by a safety margin
}

// DefaultConfig mirrors the teacher's DefaultRehydrationConfig in spirit:
// generous enough headroom to survive a few dropped bars without starving
// an indicator of warmup data.
func DefaultConfig() Config {
	return Config{MaxBarsPerInterval: 200, WarmupMultiplier: 1.5}
}

// Executor runs the three-phase provisioning pipeline against one
// SessionData instance.
type Executor struct {
	cfg      Config
	session  *sessiondata.SessionData
	source   datasource.Source
	calendar calendar.Calendar
	quality  QualityScorer
}

// New builds a provisioning Executor.
func New(cfg Config, session *sessiondata.SessionData, source datasource.Source, cal calendar.Calendar, quality QualityScorer) *Executor {
	return &Executor{cfg: cfg, session: session, source: source, calendar: cal, quality: quality}
}

// Validate runs the validate phase: the symbol must be non-empty and the
// reference date must be a trading day per the calendar.
func (e *Executor) Validate(symbol string, asOf time.Time) SymbolValidationResult {
	if symbol == "" {
		return SymbolValidationResult{Symbol: symbol, Valid: false, Reason: "empty symbol"}
	}
	if !e.calendar.IsTradingDay(asOf) {
		return SymbolValidationResult{Symbol: symbol, Valid: false, Reason: fmt.Sprintf("%s is not a trading day", asOf.Format("2006-01-02"))}
	}
	return SymbolValidationResult{Symbol: symbol, Valid: true}
}

// Execute runs the analyze -> validate -> execute pipeline for one symbol
// and returns the requirements that were provisioned. asOf anchors both the
// trading-day validation and the historical warmup window's end; in
// backtest mode it is the simulated clock, in live mode it is time.Now().
func (e *Executor) Execute(ctx context.Context, symbol string, intervals []models.Interval, indicators []models.IndicatorConfig, asOf time.Time) (requirement.ProvisioningRequirements, error) {
	req, err := requirement.AnalyzeSessionRequirements(symbol, intervals, indicators)
	if err != nil {
		return requirement.ProvisioningRequirements{}, err
	}

	if v := e.Validate(symbol, asOf); !v.Valid {
		return requirement.ProvisioningRequirements{}, coreerrors.WithSymbol(coreerrors.KindValidation, "provisioning", symbol, fmt.Errorf("%s", v.Reason))
	}

	e.session.GetOrCreate(symbol, asOf)
	logger.Info("provisioning symbol", logger.String("symbol", symbol), logger.String("step", string(StepCreateSymbol)))

	allIntervals := append([]models.Interval{req.BaseInterval}, req.DerivedIntervals...)
	for _, iv := range allIntervals {
		if err := e.loadHistorical(ctx, symbol, iv, req, asOf); err != nil {
			return requirement.ProvisioningRequirements{}, coreerrors.WithSymbol(coreerrors.KindData, "provisioning", symbol, err)
		}
	}

	for _, ind := range req.Indicators {
		e.session.UpdateIndicator(symbol, ind, map[string]float64{}, asOf)
		logger.Debug("registered indicator", logger.String("symbol", symbol), logger.String("indicator", ind.ID()))
	}

	if e.quality != nil {
		if s, ok := e.session.Get(symbol); ok {
			score := e.quality.Score(s)
			e.session.UpdateMetrics(symbol, func(m *models.SessionMetrics) {
				m.QualityScore = score
				m.LastQualitySweep = asOf
			})
		}
	}

	e.session.MarkActive(symbol, true)
	logger.Info("symbol provisioned", logger.String("symbol", symbol), logger.String("step", string(StepActivate)))

	return req, nil
}

// ExecuteForSession runs Execute and then stamps the resulting symbol with
// full-session metadata (spec.md §4.5 Phase B / §4.5.2 mid-session add):
// added_by=addedBy, meets_session_config_requirements=true.
func (e *Executor) ExecuteForSession(ctx context.Context, symbol string, intervals []models.Interval, indicators []models.IndicatorConfig, asOf time.Time, addedBy string) (requirement.ProvisioningRequirements, error) {
	req, err := e.Execute(ctx, symbol, intervals, indicators, asOf)
	if err != nil {
		return req, err
	}
	if s, ok := e.session.Get(symbol); ok {
		s.AddedBy = addedBy
		s.MeetsSessionConfigRequirements = true
	}
	return req, nil
}

// ExecuteAdhoc provisions a symbol with only the minimum historical warmup
// needed for a single indicator (scenario 5: a scanner adds SMA(20) on a
// symbol that isn't loaded). The symbol is marked auto-provisioned and does
// not meet full session config requirements until a later UpgradeSymbol
// call.
func (e *Executor) ExecuteAdhoc(ctx context.Context, symbol string, interval models.Interval, indicator models.IndicatorConfig, asOf time.Time) (requirement.ProvisioningRequirements, error) {
	req, err := e.Execute(ctx, symbol, []models.Interval{interval}, []models.IndicatorConfig{indicator}, asOf)
	if err != nil {
		return req, err
	}
	if s, ok := e.session.Get(symbol); ok {
		s.AddedBy = "scanner"
		s.AutoProvisioned = true
		s.MeetsSessionConfigRequirements = false
	}
	return req, nil
}

// UpgradeSymbol promotes a previously adhoc-provisioned symbol to full
// session status (scenario 5's second half): it first loads the symbol's
// full historical/quality data through Execute, the way Phase B would have,
// then sets meets_session_config_requirements and upgraded_from_adhoc and
// records added_by as "strategy".
func (e *Executor) UpgradeSymbol(ctx context.Context, symbol string, intervals []models.Interval, indicators []models.IndicatorConfig, asOf time.Time) (requirement.ProvisioningRequirements, error) {
	req, err := e.Execute(ctx, symbol, intervals, indicators, asOf)
	if err != nil {
		return req, err
	}
	if s, ok := e.session.Get(symbol); ok {
		s.MeetsSessionConfigRequirements = true
		s.UpgradedFromAdhoc = true
		s.AddedBy = "strategy"
	}
	return req, nil
}

func (e *Executor) loadHistorical(ctx context.Context, symbol string, iv models.Interval, req requirement.ProvisioningRequirements, asOf time.Time) error {
	warmup := req.WarmupBars[iv.String()]
	if warmup <= 0 {
		warmup = 1
	}
	n := int(float64(warmup) * e.cfg.WarmupMultiplier)
	if n < warmup {
		n = warmup
	}
	from := asOf.Add(-time.Duration(n) * iv.Duration())

	bars, err := e.source.LoadBars(ctx, symbol, iv, from, asOf)
	if err != nil {
		return fmt.Errorf("load historical bars for %s@%s: %w", symbol, iv, err)
	}
	for _, b := range bars {
		e.session.AppendBar(symbol, iv, b, e.cfg.MaxBarsPerInterval)
	}
	return nil
}

// Catchup re-runs historical loading for a symbol added mid-session, up to
// (but not including) currentSimTime, without touching the backtest clock.
// The coordinator does not call it: its mid-session path replays the new
// symbol's own bar queue up to the simulated clock instead.
func (e *Executor) Catchup(ctx context.Context, symbol string, req requirement.ProvisioningRequirements, currentSimTime time.Time) error {
	allIntervals := append([]models.Interval{req.BaseInterval}, req.DerivedIntervals...)
	for _, iv := range allIntervals {
		if err := e.loadHistorical(ctx, symbol, iv, req, currentSimTime); err != nil {
			return coreerrors.WithSymbol(coreerrors.KindData, "provisioning", symbol, err)
		}
	}
	return nil
}
