// Package requirement implements the Requirement Analyzer: a pure-function
// component (no shared state, no I/O) that turns a symbol's requested
// intervals and indicators into a ProvisioningRequirements plan. Grounded
// on the teacher's internal/rules.Compiler, which is likewise a stateless
// validate-then-build pipeline over a declarative input.
package requirement

import (
	"fmt"
	"sort"

	"github.com/marketdata/sessioncore/internal/coreerrors"
	"github.com/marketdata/sessioncore/internal/models"
)

// ProvisioningRequirements is the Requirement Analyzer's output: the full
// plan the Provisioning Executor carries out for one symbol.
type ProvisioningRequirements struct {
	Symbol           string
	BaseInterval     models.Interval
	DerivedIntervals []models.Interval // every requested interval other than BaseInterval
	Indicators       []models.IndicatorConfig
	WarmupBars       map[string]int // Interval.String() -> bars required before that interval's indicators go valid
}

// AnalyzeSessionRequirements validates a symbol's requested intervals and
// indicators and builds the ProvisioningRequirements plan for it.
//
// Invariants enforced (spec.md §3/§4.2): every requested interval must be a
// valid aggregation target of the smallest requested interval (the "base"
// bars actually ingested from the data source); every indicator's interval
// must be one of the requested intervals.
func AnalyzeSessionRequirements(symbol string, intervals []models.Interval, indicators []models.IndicatorConfig) (ProvisioningRequirements, error) {
	if symbol == "" {
		return ProvisioningRequirements{}, coreerrors.New(coreerrors.KindValidation, "requirement_analyzer", fmt.Errorf("empty symbol"))
	}
	if len(intervals) == 0 {
		return ProvisioningRequirements{}, coreerrors.WithSymbol(coreerrors.KindValidation, "requirement_analyzer", symbol, fmt.Errorf("at least one interval is required"))
	}

	sorted := append([]models.Interval(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seconds() < sorted[j].Seconds() })
	base := sorted[0]

	derived := make([]models.Interval, 0, len(sorted)-1)
	seen := map[string]bool{base.String(): true}
	for _, iv := range sorted[1:] {
		if seen[iv.String()] {
			continue
		}
		seen[iv.String()] = true
		if !iv.DerivesFrom(base) {
			return ProvisioningRequirements{}, coreerrors.WithSymbol(coreerrors.KindValidation, "requirement_analyzer", symbol,
				fmt.Errorf("interval %s cannot be derived from base interval %s", iv, base))
		}
		derived = append(derived, iv)
	}

	for _, ind := range indicators {
		if !seen[ind.Interval.String()] {
			return ProvisioningRequirements{}, coreerrors.WithSymbol(coreerrors.KindValidation, "requirement_analyzer", symbol,
				fmt.Errorf("indicator %s references interval %s which was not requested", ind.Kind, ind.Interval))
		}
	}

	return ProvisioningRequirements{
		Symbol:           symbol,
		BaseInterval:     base,
		DerivedIntervals: derived,
		Indicators:       indicators,
		WarmupBars:       AnalyzeIndicatorRequirements(indicators),
	}, nil
}

// AnalyzeIndicatorRequirements computes, for each interval an indicator set
// touches, the number of bars of warmup history that must be loaded before
// any indicator at that interval can be considered valid: the maximum
// WarmupBars() across all indicators configured at that interval.
func AnalyzeIndicatorRequirements(indicators []models.IndicatorConfig) map[string]int {
	out := make(map[string]int)
	for _, ind := range indicators {
		key := ind.Interval.String()
		need := ind.WarmupBars()
		if cur, ok := out[key]; !ok || need > cur {
			out[key] = need
		}
	}
	return out
}
