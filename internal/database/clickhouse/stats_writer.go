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

// StatsWriter stores SocketCAN interface statistics.
type StatsWriter struct {
	*database.Batcher[models.SocketCANStats]
}

var _ database.Writer[models.SocketCANStats] = (*StatsWriter)(nil)

// NewStatsWriter creates a statistics writer flushing every 5 seconds.
func NewStatsWriter(conn driver.Conn, table string, batchSize int, logger *slog.Logger) *StatsWriter {
	flush := func(ctx context.Context, batch []models.SocketCANStats) error {
		return prepareAndSend(ctx, conn, table, batch, statsRow)
	}
	return &StatsWriter{
		Batcher: database.NewBatcher("clickhouse_stats", batchSize, 5*time.Second, flush, logger),
	}
}

func statsTableDDL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			interface String,
			bus UInt8,
			state String,
			bitrate UInt32,
			sample_point String,
			bus_state String,
			rx_error_counter UInt32,
			tx_error_counter UInt32,
			rx_packets UInt64,
			rx_errors UInt64,
			rx_dropped UInt64,
			tx_packets UInt64,
			tx_errors UInt64,
			tx_dropped UInt64,
			bus_off_restarts UInt64,
			error_warning UInt64,
			error_passive UInt64,
			bus_off UInt64
		) ENGINE = MergeTree()
		ORDER BY (timestamp, interface)
		PARTITION BY toYYYYMMDD(timestamp)
		SETTINGS index_granularity = 8192
	`, table)
}

func statsRow(s models.SocketCANStats) []any {
	return []any{
		s.Timestamp,
		s.Interface,
		uint8(s.Bus),
		s.State,
		uint32(s.Bitrate),
		s.SamplePoint,
		s.BusState,
		uint32(s.RXErrorCounter),
		uint32(s.TXErrorCounter),
		s.RXPackets,
		s.RXErrors,
		s.RXDropped,
		s.TXPackets,
		s.TXErrors,
		s.TXDropped,
		s.BusOffRestarts,
		s.ErrorWarning,
		s.ErrorPassive,
		s.BusOff,
	}
}
