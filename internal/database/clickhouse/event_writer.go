package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"can-safety-gateway/internal/database"
	"can-safety-gateway/internal/models"
)

// EventWriter stores safety events for fleet-wide history queries.
type EventWriter struct {
	*database.Batcher[models.SafetyEvent]
}

var _ database.Writer[models.SafetyEvent] = (*EventWriter)(nil)

// NewEventWriter creates an event writer. Events are rare, so the flush
// interval is short and batches are small.
func NewEventWriter(conn driver.Conn, table string, batchSize int, logger *slog.Logger) *EventWriter {
	flush := func(ctx context.Context, batch []models.SafetyEvent) error {
		return prepareAndSend(ctx, conn, table, batch, eventRow)
	}
	return &EventWriter{
		Batcher: database.NewBatcher("clickhouse_events", batchSize, 500*time.Millisecond, flush, logger),
	}
}

func eventTableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			session String,
			mode LowCardinality(String),
			kind LowCardinality(String),
			reason String,
			bus Int8,
			can_id UInt32,
			value Int64,
			clock_us UInt32
		) ENGINE = MergeTree()
		ORDER BY (timestamp, kind)
		PARTITION BY toYYYYMM(timestamp)
		SETTINGS index_granularity = 8192
	`, table)
}

func eventRow(e models.SafetyEvent) []any {
	return []any{
		e.Timestamp,
		e.Session,
		e.Mode,
		e.Kind,
		e.Reason,
		int8(e.Bus),
		e.CANID,
		e.Value,
		e.ClockUS,
	}
}
