package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/marketdata/sessioncore/internal/models"
	"github.com/marketdata/sessioncore/pkg/logger"
)

// LiveConfig configures the websocket-backed live source, grounded on the
// teacher's WebSocketConfig (internal/data/websocket.go) plus the resilience
// settings sawpanic-cryptorun applies around its own exchange feeds.
type LiveConfig struct {
	URL               string
	HistoricalBarsURL string // REST endpoint backing LoadBars
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	RequestsPerSecond float64
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
}

// DefaultLiveConfig mirrors the teacher's DefaultWebSocketConfig defaults.
func DefaultLiveConfig(url string) LiveConfig {
	return LiveConfig{
		URL:                url,
		ReconnectDelay:     time.Second,
		MaxReconnectDelay:  30 * time.Second,
		RequestsPerSecond:  10,
		BreakerMaxRequests: 3,
		BreakerInterval:    time.Minute,
		BreakerTimeout:     30 * time.Second,
	}
}

// Live is a websocket-backed Source with automatic reconnect-with-backoff,
// a token-bucket limiter on historical REST fetches, and a circuit breaker
// that opens when the upstream feed or REST API is failing repeatedly.
type Live struct {
	cfg     LiveConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	http    *http.Client

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewLive builds a live data source over cfg.
func NewLive(cfg LiveConfig) *Live {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "datasource.live",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})
	return &Live{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker: breaker,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// LoadBars fetches historical bars over REST, rate-limited and
// circuit-broken.
func (l *Live) LoadBars(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Bar, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	result, err := l.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s?symbol=%s&interval=%s&from=%d&to=%d",
			l.cfg.HistoricalBarsURL, symbol, interval.String(), from.Unix(), to.Unix())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := l.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("historical bars request failed: status %d", resp.StatusCode)
		}
		var bars []models.Bar
		if err := json.NewDecoder(resp.Body).Decode(&bars); err != nil {
			return nil, fmt.Errorf("decode bars: %w", err)
		}
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Bar), nil
}

// Stream connects to the live websocket feed and reconnects with
// exponential backoff on drop, mirroring the teacher's WebSocketClient
// reconnect loop.
func (l *Live) Stream(ctx context.Context, symbols []string, interval models.Interval) (<-chan models.Bar, error) {
	out := make(chan models.Bar, 256)
	go l.run(ctx, symbols, interval, out)
	return out, nil
}

func (l *Live) run(ctx context.Context, symbols []string, interval models.Interval, out chan<- models.Bar) {
	defer close(out)
	delay := l.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.cfg.URL, nil)
		if err != nil {
			logger.Warn("live datasource dial failed", logger.ErrorField(err), logger.Duration("retry_in", delay))
			if !sleepOrDone(ctx, delay) {
				return
			}
			delay = nextBackoff(delay, l.cfg.MaxReconnectDelay)
			continue
		}
		delay = l.cfg.ReconnectDelay

		l.mu.Lock()
		l.conn = conn
		l.mu.Unlock()

		if err := l.subscribe(conn, symbols, interval); err != nil {
			logger.Warn("live datasource subscribe failed", logger.ErrorField(err))
			conn.Close()
			continue
		}

		l.readLoop(ctx, conn, out)
		if ctx.Err() != nil {
			return
		}
	}
}

func (l *Live) subscribe(conn *websocket.Conn, symbols []string, interval models.Interval) error {
	msg := map[string]interface{}{
		"action":   "subscribe",
		"symbols":  symbols,
		"interval": interval.String(),
	}
	return conn.WriteJSON(msg)
}

func (l *Live) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- models.Bar) {
	defer conn.Close()
	for {
		var bar models.Bar
		if err := conn.ReadJSON(&bar); err != nil {
			logger.Warn("live datasource read failed, reconnecting", logger.ErrorField(err))
			return
		}
		select {
		case out <- bar:
		case <-ctx.Done():
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// Close shuts down the live connection.
func (l *Live) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
