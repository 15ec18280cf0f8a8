package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/marketdata/sessioncore/internal/calendar"
	"github.com/marketdata/sessioncore/internal/config"
	"github.com/marketdata/sessioncore/internal/coordinator"
	"github.com/marketdata/sessioncore/internal/dataprocessor"
	"github.com/marketdata/sessioncore/internal/datasource"
	"github.com/marketdata/sessioncore/internal/dispatcher"
	"github.com/marketdata/sessioncore/internal/historicalstore"
	"github.com/marketdata/sessioncore/internal/httpapi"
	"github.com/marketdata/sessioncore/internal/models"
	"github.com/marketdata/sessioncore/internal/provisioning"
	"github.com/marketdata/sessioncore/internal/qualitymanager"
	"github.com/marketdata/sessioncore/internal/requirement"
	"github.com/marketdata/sessioncore/internal/sessiondata"
	"github.com/marketdata/sessioncore/pkg/logger"
)

// runningStack holds every collaborator "system start" wires together, so
// the httpapi server and a clean shutdown path can both reach them.
type runningStack struct {
	session *sessiondata.SessionData
	coord   *coordinator.Coordinator
	qmgr    *qualitymanager.Manager
	disp    *dispatcher.Dispatcher
	cal     calendar.Calendar
	srv     *http.Server
}

// lazyProcessor adapts dataprocessor.Processor to coordinator.BaseBarHandler.
// The coordinator only knows how to deliver a bar; it has no hook for "a
// symbol was just provisioned with this set of derived intervals and
// indicators", so the adapter registers each symbol with the processor
// itself, once, on that symbol's first delivered bar.
type lazyProcessor struct {
	proc       *dataprocessor.Processor
	intervals  []models.Interval
	indicators []models.IndicatorConfig

	mu       sync.Mutex
	registered map[string]bool
}

func newLazyProcessor(proc *dataprocessor.Processor, intervals []models.Interval, indicators []models.IndicatorConfig) *lazyProcessor {
	return &lazyProcessor{proc: proc, intervals: intervals, indicators: indicators, registered: make(map[string]bool)}
}

func (l *lazyProcessor) onBar(ctx context.Context, symbol string, bar models.Bar) error {
	l.mu.Lock()
	if !l.registered[symbol] {
		req, err := requirement.AnalyzeSessionRequirements(symbol, l.intervals, l.indicators)
		if err != nil {
			l.mu.Unlock()
			return fmt.Errorf("analyze requirements for %s: %w", symbol, err)
		}
		if err := l.proc.Register(req); err != nil {
			l.mu.Unlock()
			return fmt.Errorf("register %s with processor: %w", symbol, err)
		}
		l.registered[symbol] = true
	}
	l.mu.Unlock()
	return l.proc.OnBaseBar(ctx, symbol, bar)
}

func wireStack(cfg *config.Config, httpAddr string) (*runningStack, error) {
	cal := calendar.NewUSEquityCalendar()
	session := sessiondata.New()

	source, err := buildSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("build data source: %w", err)
	}

	qmgr := qualitymanager.New(qualitymanager.DefaultConfig(), session, cal, source)
	exec := provisioning.New(provisioning.DefaultConfig(), session, source, cal, qmgr)

	disp := dispatcher.New(context.Background(), dispatcher.DefaultConfig())
	for _, st := range cfg.SessionDataConfig.Strategies {
		if !st.Enabled {
			continue
		}
		logger.Warn("strategy module configured but no in-process strategy loader is wired; skipping",
			logger.String("module", st.Module))
	}

	proc := dataprocessor.New(session, cal, 0, disp)

	intervals := cfg.Intervals()
	indicators, err := cfg.Indicators()
	if err != nil {
		return nil, fmt.Errorf("resolve indicators: %w", err)
	}
	lazy := newLazyProcessor(proc, intervals, indicators)

	coordCfg := coordinator.Config{
		Mode:       coordinator.Mode(cfg.Mode),
		Symbols:    cfg.SessionDataConfig.Symbols,
		Intervals:  intervals,
		Indicators: indicators,
	}
	if cfg.Mode == config.ModeBacktest {
		start, _ := cfg.StartDate()
		end, _ := cfg.EndDate()
		coordCfg.StartDate = start
		coordCfg.EndDate = end
		coordCfg.SpeedMultiplier = cfg.BacktestConfig.SpeedMultiplier
	}

	coord := coordinator.New(coordCfg, session, source, cal, exec, lazy.onBar)
	coord.SetFlushHandler(proc.Flush)

	httpSrv := httpapi.New(session, coord, qmgr, disp, cal, cfg.ExchangeGroup)
	server := &http.Server{Addr: httpAddr, Handler: httpSrv.Router()}

	return &runningStack{session: session, coord: coord, qmgr: qmgr, disp: disp, cal: cal, srv: server}, nil
}

// buildSource picks the coordinator's datasource.Source: a Postgres-backed
// internal/historicalstore.Store for warmup/history if HISTORICAL_DB_HOST
// is set in the environment, a synthetic random-walk generator otherwise --
// the same "real backend if configured, in-memory fallback for local runs"
// split the teacher's internal/data.Provider selection makes.
func buildSource(cfg *config.Config) (datasource.Source, error) {
	if host := os.Getenv("HISTORICAL_DB_HOST"); host != "" {
		hsCfg := historicalstore.DefaultConfig()
		hsCfg.Host = host
		hsCfg.Database = os.Getenv("HISTORICAL_DB_NAME")
		hsCfg.User = os.Getenv("HISTORICAL_DB_USER")
		hsCfg.Password = os.Getenv("HISTORICAL_DB_PASSWORD")
		store, err := historicalstore.New(hsCfg)
		if err != nil {
			return nil, err
		}
		if err := store.Start(); err != nil {
			return nil, err
		}
		logger.Warn("historicalstore does not implement live Stream; symbols will only receive historical warmup, not new bars")
		return store, nil
	}
	return datasource.NewSynthetic(time.Now().UnixNano()), nil
}

// run blocks until ctx is canceled (SIGINT/SIGTERM), running the
// coordinator's lifecycle loop, the quality manager's sweep loop, and the
// HTTP export server concurrently, then tears everything down in reverse
// order.
func (s *runningStack) run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.qmgr.Start(ctx); err != nil {
		return fmt.Errorf("start quality manager: %w", err)
	}
	defer s.qmgr.Stop()
	defer s.disp.Close()

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http export surface listening", logger.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()
	go func() {
		errCh <- s.coord.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			stop()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(shutdownCtx)
	return nil
}
