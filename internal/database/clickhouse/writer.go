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

// FrameWriter logs every gateway frame decision to ClickHouse.
type FrameWriter struct {
	*database.Batcher[models.FrameRecord]
}

var _ database.Writer[models.FrameRecord] = (*FrameWriter)(nil)

// NewFrameWriter creates a frame writer flushing every second or every
// batchSize records.
func NewFrameWriter(conn driver.Conn, table string, batchSize int, logger *slog.Logger) *FrameWriter {
	flush := func(ctx context.Context, batch []models.FrameRecord) error {
		return prepareAndSend(ctx, conn, table, batch, frameRow)
	}
	return &FrameWriter{
		Batcher: database.NewBatcher("clickhouse_frames", batchSize, time.Second, flush, logger),
	}
}

func frameTableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			interface String,
			direction LowCardinality(String),
			bus UInt8,
			can_id UInt32,
			dlc UInt8,
			data Array(UInt8),
			accepted Bool,
			forwarded_to Int8
		) ENGINE = MergeTree()
		ORDER BY (timestamp, can_id)
		PARTITION BY toYYYYMMDD(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
		SETTINGS index_granularity = 8192
	`, table)
}

func frameRow(r models.FrameRecord) []any {
	return []any{
		r.Timestamp,
		r.Interface,
		string(r.Direction),
		uint8(r.Frame.Bus),
		r.Frame.ID,
		r.Frame.DLC,
		append([]uint8(nil), r.Frame.Payload()...),
		r.Accepted,
		int8(r.ForwardedTo),
	}
}
