// Package datasource is the session coordinator's data-source collaborator:
// it loads historical bars for warmup and streams new bars during a
// session. Grounded on the teacher's internal/data package (Provider
// interface, MockProvider's random-walk generator, WebSocketClient's
// reconnect-with-backoff idiom), generalized from tick delivery to
// already-finalized bar delivery, since the coordinator's data model is
// bar-based rather than tick-based.
package datasource

import (
	"context"
	"time"

	"github.com/marketdata/sessioncore/internal/models"
)

// Source is the collaborator the coordinator uses to populate historical
// warmup windows and to receive new bars during a live or backtest session.
type Source interface {
	// LoadBars returns finalized bars for symbol at interval covering
	// [from, to), ordered oldest first. Used for historical warmup and for
	// mid-session catch-up when a symbol is added after the session starts.
	LoadBars(ctx context.Context, symbol string, interval models.Interval, from, to time.Time) ([]models.Bar, error)

	// Stream returns a channel of newly finalized base-interval bars for
	// the given symbols. The channel closes when ctx is canceled; Close
	// does not end a stream that is already running.
	Stream(ctx context.Context, symbols []string, interval models.Interval) (<-chan models.Bar, error)

	// Close releases any connections held by the source.
	Close() error
}
