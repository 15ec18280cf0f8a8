// Package httpapi serves the JSON state export and Prometheus metrics
// endpoint spec.md §6 names: an HTTP surface for inter-process inspection
// and testing that also accepts symbol add/remove requests (POST /symbols
// enqueues on the coordinator, DELETE /symbols/{symbol} drops the symbol
// from SessionData). Grounded on
// internal/api/handlers.go's gorilla/mux + respondWithJSON handler style
// and internal/api/middleware.go's CORS/logging middleware chain, with the
// auth and rate-limit middleware dropped (spec's explicit no-authentication
// Non-goal) and the rule/alert/toplist/user handlers replaced by the one
// export the spec actually calls for: system_manager/threads/session_data.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marketdata/sessioncore/internal/calendar"
	"github.com/marketdata/sessioncore/internal/coordinator"
	"github.com/marketdata/sessioncore/internal/dispatcher"
	"github.com/marketdata/sessioncore/internal/qualitymanager"
	"github.com/marketdata/sessioncore/internal/sessiondata"
	"github.com/marketdata/sessioncore/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
)

var httpRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "httpapi_requests_total",
		Help: "Total number of HTTP requests served by the status/export surface",
	},
	[]string{"path", "status"},
)

// Server holds the collaborators the export surface reads from. Every
// handler is a read except POST /symbols, which calls coord.AddSymbol, and
// DELETE /symbols/{symbol}, which removes the symbol from SessionData.
type Server struct {
	session       *sessiondata.SessionData
	coord         *coordinator.Coordinator
	qmgr          *qualitymanager.Manager
	disp          *dispatcher.Dispatcher
	cal           calendar.Calendar
	exchangeGroup string
}

// New builds a Server. Any of qmgr/disp may be nil if that worker isn't
// wired into this run (its thread entry is simply omitted from the export).
func New(session *sessiondata.SessionData, coord *coordinator.Coordinator, qmgr *qualitymanager.Manager, disp *dispatcher.Dispatcher, cal calendar.Calendar, exchangeGroup string) *Server {
	return &Server{session: session, coord: coord, qmgr: qmgr, disp: disp, cal: cal, exchangeGroup: exchangeGroup}
}

// Router builds the gorilla/mux router: GET /status, GET /session,
// GET /symbols, POST /symbols, DELETE /symbols/{symbol}, GET /healthz,
// GET /metrics.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware, loggingMiddleware)

	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/symbols", s.handleListSymbols).Methods(http.MethodGet)
	r.HandleFunc("/symbols", s.handleAddSymbol).Methods(http.MethodPost)
	r.HandleFunc("/symbols/{symbol}", s.handleRemoveSymbol).Methods(http.MethodDelete)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// statusResponse is the JSON state export's system_manager + threads tree
// (spec.md §6). session_data is served separately from /session since it
// can be large and callers often want it on its own poll cadence.
type statusResponse struct {
	SystemManager systemManagerView    `json:"system_manager"`
	Threads       map[string]threadView `json:"threads"`
}

type systemManagerView struct {
	State          string     `json:"state"`
	Mode           string     `json:"mode"`
	Timezone       string     `json:"timezone"`
	ExchangeGroup  string     `json:"exchange_group"`
	BacktestWindow [2]string  `json:"backtest_window"`
}

// threadView exports only a thread's operational state, never a duplicate
// of SessionData, per spec.md §6.
type threadView struct {
	ThreadInfo threadInfo     `json:"thread_info"`
	Running    bool           `json:"running"`
	Extra      map[string]any `json:"extra,omitempty"`
}

type threadInfo struct {
	Name   string `json:"name"`
	Alive  bool   `json:"alive"`
	Daemon bool   `json:"daemon"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tz := "UTC"
	if s.cal != nil {
		tz = s.cal.Location().String()
	}

	view := statusResponse{
		SystemManager: systemManagerView{
			Timezone:      tz,
			ExchangeGroup: s.exchangeGroup,
		},
		Threads: make(map[string]threadView),
	}

	if s.coord != nil {
		view.SystemManager.State = s.coord.State()
		view.SystemManager.Mode = string(s.coord.Mode())
		start, end := s.coord.BacktestWindow()
		view.SystemManager.BacktestWindow = [2]string{formatDate(start), formatDate(end)}
		view.Threads["coordinator"] = threadView{
			ThreadInfo: threadInfo{Name: "coordinator", Alive: true, Daemon: false},
			Running:    view.SystemManager.State == "streaming",
		}
	}

	if s.qmgr != nil {
		view.Threads["quality_manager"] = threadView{
			ThreadInfo: threadInfo{Name: "quality_manager", Alive: true, Daemon: true},
			Running:    s.qmgr.Running(),
		}
	}

	if s.disp != nil {
		view.Threads["strategy_dispatcher"] = threadView{
			ThreadInfo: threadInfo{Name: "strategy_dispatcher", Alive: true, Daemon: true},
			Running:    s.disp.Running(),
			Extra:      map[string]any{"strategies": s.disp.StrategyNames()},
		}
	}

	respondWithJSON(w, r, http.StatusOK, view)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, r, http.StatusOK, map[string]any{
		"symbols": s.session.Snapshot(),
	})
}

type addSymbolRequest struct {
	Symbol string `json:"symbol"`
}

// handleAddSymbol implements the CLI's "data add-symbol" operation: it
// enqueues the symbol for the coordinator's next pending-drain pass
// (spec.md §4.5.2), it does not provision synchronously.
func (s *Server) handleAddSymbol(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		respondWithError(w, r, http.StatusServiceUnavailable, "coordinator not running")
		return
	}
	var req addSymbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		respondWithError(w, r, http.StatusBadRequest, "symbol is required")
		return
	}
	s.coord.AddSymbol(req.Symbol, coordinator.AddedByStrategy)
	respondWithJSON(w, r, http.StatusAccepted, map[string]string{"symbol": req.Symbol, "status": "pending"})
}

// handleRemoveSymbol implements "data remove-symbol": it drops the symbol
// from the live session immediately. A symbol added by config re-appears
// only on the next session cycle's Load phase, matching "remove" acting on
// session-live state rather than the static config.
func (s *Server) handleRemoveSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if _, ok := s.session.Get(symbol); !ok {
		respondWithError(w, r, http.StatusNotFound, "symbol not found")
		return
	}
	s.session.Remove(symbol)
	respondWithJSON(w, r, http.StatusOK, map[string]string{"symbol": symbol, "status": "removed"})
}

// handleListSymbols implements "data list-dynamic" (?dynamic=true: symbols
// added after session start, i.e. AddedBy != config) and the plain listing.
func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	dynamicOnly := r.URL.Query().Get("dynamic") == "true"
	out := make([]string, 0)
	for _, sym := range s.session.Symbols() {
		rec, ok := s.session.Get(sym)
		if !ok {
			continue
		}
		if dynamicOnly && rec.AddedBy == string(coordinator.AddedByConfig) {
			continue
		}
		out = append(out, sym)
	}
	respondWithJSON(w, r, http.StatusOK, map[string]any{"symbols": out})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func respondWithJSON(w http.ResponseWriter, r *http.Request, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
	httpRequestsTotal.WithLabelValues(r.URL.Path, http.StatusText(code)).Inc()
}

func respondWithError(w http.ResponseWriter, r *http.Request, code int, message string) {
	respondWithJSON(w, r, code, map[string]string{"error": message})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, end := logger.StartSpan(r.Context(), "httpapi.request")
		defer end()
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logger.WithContext(ctx).Debug("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Duration("duration", time.Since(start)),
		)
	})
}
