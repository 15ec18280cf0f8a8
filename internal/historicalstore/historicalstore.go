// Package historicalstore is a Postgres/TimescaleDB-backed
// datasource.Source: it satisfies LoadBars for historical warmup and
// mid-session catch-up, and separately offers an async, batched write path
// so a running session can persist finalized bars as they arrive. Grounded
// on internal/storage/timescale.go's TimescaleDBClient: the same
// connection-pool setup, the same channel-plus-ticker batching write
// queue, and the same retry-with-backoff insert loop, generalized from a
// single fixed bars_1m table (one interval) to a bars table keyed on
// (symbol, interval, timestamp), since the coordinator's data model spans
// every configured interval, not just one-minute bars.
package historicalstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/marketdata/sessioncore/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marketdata/sessioncore/pkg/logger"
)

var (
	storeWriteTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historicalstore_write_total",
			Help: "Total number of bar-write operations to the historical store",
		},
		[]string{"status"},
	)

	storeWriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "historicalstore_write_latency_seconds",
			Help:    "Write latency to the historical store in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)

	storeWriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "historicalstore_write_queue_depth",
			Help: "Current depth of the async write queue",
		},
	)

	storeLoadLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "historicalstore_load_latency_seconds",
			Help:    "LoadBars query latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"interval"},
	)
)

// Config holds the connection and write-batching parameters.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	WriteBatchSize int
	WriteInterval  time.Duration
	WriteQueueSize int
	MaxRetries     int
	RetryDelay     time.Duration
}

// DefaultConfig mirrors the teacher's conservative batching defaults.
func DefaultConfig() Config {
	return Config{
		SSLMode:         "disable",
		MaxConnections:  10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		WriteBatchSize:  250,
		WriteInterval:   time.Second,
		WriteQueueSize:  1000,
		MaxRetries:      3,
		RetryDelay:      100 * time.Millisecond,
	}
}

type pendingWrite struct {
	symbol   string
	interval models.Interval
	bar      models.Bar
}

// Store is a Postgres-backed datasource.Source plus an async write path.
// var _ datasource.Source = (*Store)(nil) is asserted in historicalstore_test.go
// to avoid an import cycle (datasource has no dependency on this package).
type Store struct {
	db     *sql.DB
	cfg    Config
	queue  chan []pendingWrite
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	running bool
}

// New opens the connection pool and pings it once before returning.
func New(cfg Config) (*Store, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open historical store connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping historical store: %w", err)
	}

	storeCtx, storeCancel := context.WithCancel(context.Background())
	logger.Info("connected to historical store", logger.String("host", cfg.Host), logger.String("database", cfg.Database))

	return &Store{
		db:     db,
		cfg:    cfg,
		queue:  make(chan []pendingWrite, cfg.WriteQueueSize),
		ctx:    storeCtx,
		cancel: storeCancel,
	}, nil
}

// Start begins the background write-queue processor.
func (s *Store) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("historical store write queue already running")
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.processQueue()
	return nil
}

// LoadBars implements datasource.Source: finalized bars for symbol at
// interval covering [from, to), ordered oldest first.
func (s *Store) LoadBars(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Bar, error) {
	start := time.Now()
	defer func() {
		storeLoadLatency.WithLabelValues(interval.String()).Observe(time.Since(start).Seconds())
	}()

	const query = `
		SELECT symbol, timestamp, open, high, low, close, volume, vwap
		FROM bars
		WHERE symbol = $1 AND interval = $2 AND timestamp >= $3 AND timestamp < $4
		ORDER BY timestamp ASC
	`
	rows, err := s.db.QueryContext(ctx, query, symbol, interval.String(), from, to)
	if err != nil {
		return nil, fmt.Errorf("query bars for %s@%s: %w", symbol, interval, err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		b.Symbol = symbol
		b.Interval = interval
		if err := rows.Scan(&b.Symbol, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.VWAP); err != nil {
			return nil, fmt.Errorf("scan bar for %s@%s: %w", symbol, interval, err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars for %s@%s: %w", symbol, interval, err)
	}
	return bars, nil
}

// Stream is not supported: the historical store is a warmup/catch-up
// collaborator, not a live feed. Live sessions pair it with a separate
// streaming datasource.Source (e.g. internal/datasource's exchange client)
// and use this one only for LoadBars.
func (s *Store) Stream(ctx context.Context, symbols []string, interval models.Interval) (<-chan models.Bar, error) {
	return nil, fmt.Errorf("historicalstore: Stream not supported, pair with a streaming datasource.Source")
}

// WriteBars enqueues finalized bars for async, batched persistence.
func (s *Store) WriteBars(ctx context.Context, symbol string, interval models.Interval, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	pending := make([]pendingWrite, 0, len(bars))
	for _, b := range bars {
		if err := b.Validate(); err != nil {
			logger.Warn("invalid bar, skipping write", logger.ErrorField(err), logger.String("symbol", symbol))
			continue
		}
		pending = append(pending, pendingWrite{symbol: symbol, interval: interval, bar: b})
	}
	if len(pending) == 0 {
		return nil
	}

	select {
	case s.queue <- pending:
		storeWriteQueueDepth.Set(float64(len(s.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		storeWriteTotal.WithLabelValues("queue_full").Inc()
		return fmt.Errorf("historical store write queue is full")
	}
}

// Close stops the write queue, flushing anything buffered, and closes the
// database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return s.db.Close()
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	close(s.queue)
	for batch := range s.queue {
		s.writeSync(context.Background(), batch)
	}
	s.wg.Wait()

	return s.db.Close()
}

func (s *Store) processQueue() {
	defer s.wg.Done()

	batch := make([]pendingWrite, 0, s.cfg.WriteBatchSize)
	ticker := time.NewTicker(s.cfg.WriteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			if len(batch) > 0 {
				s.writeSync(context.Background(), batch)
			}
			return
		case item, ok := <-s.queue:
			if !ok {
				if len(batch) > 0 {
					s.writeSync(context.Background(), batch)
				}
				return
			}
			batch = append(batch, item...)
			storeWriteQueueDepth.Set(float64(len(s.queue)))
			if len(batch) >= s.cfg.WriteBatchSize {
				s.writeSync(context.Background(), batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.writeSync(context.Background(), batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *Store) writeSync(ctx context.Context, batch []pendingWrite) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()
	defer func() {
		storeWriteLatency.WithLabelValues("write").Observe(time.Since(start).Seconds())
	}()

	var err error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		err = s.insert(ctx, batch)
		if err == nil {
			storeWriteTotal.WithLabelValues("success").Inc()
			return
		}
		logger.Warn("historical store write failed, retrying",
			logger.ErrorField(err), logger.Int("attempt", attempt+1))
		time.Sleep(s.cfg.RetryDelay)
	}
	storeWriteTotal.WithLabelValues("error").Inc()
	logger.Error("historical store write failed after retries", logger.ErrorField(err), logger.Int("bars", len(batch)))
}

func (s *Store) insert(ctx context.Context, batch []pendingWrite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	const stmt = `
		INSERT INTO bars (symbol, interval, timestamp, open, high, low, close, volume, vwap)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, interval, timestamp) DO UPDATE
		SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		    close = EXCLUDED.close, volume = EXCLUDED.volume, vwap = EXCLUDED.vwap
	`
	for _, item := range batch {
		b := item.bar
		if _, err := tx.ExecContext(ctx, stmt, item.symbol, item.interval.String(), b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume, b.VWAP); err != nil {
			return fmt.Errorf("insert bar: %w", err)
		}
	}
	return tx.Commit()
}
