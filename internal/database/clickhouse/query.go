package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"can-safety-gateway/internal/models"
)

// History answers queries over the frame and event logs.
type History struct {
	conn   driver.Conn
	config Config
}

// NewHistory creates a query helper over an open connection.
func NewHistory(conn driver.Conn, config Config) *History {
	return &History{conn: conn, config: config}
}

// filter renders the WHERE clause shared by every history query.
func filter(p models.QueryParams, withKind bool) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(" WHERE 1=1")
	if p.StartTime != nil {
		b.WriteString(" AND timestamp >= ?")
		args = append(args, *p.StartTime)
	}
	if p.EndTime != nil {
		b.WriteString(" AND timestamp <= ?")
		args = append(args, *p.EndTime)
	}
	if p.CANID != nil {
		b.WriteString(" AND can_id = ?")
		args = append(args, *p.CANID)
	}
	if p.Interface != "" && !withKind {
		b.WriteString(" AND interface = ?")
		args = append(args, p.Interface)
	}
	if p.Kind != "" && withKind {
		b.WriteString(" AND kind = ?")
		args = append(args, p.Kind)
	}
	return b.String(), args
}

func page(p models.QueryParams, args []any) (string, []any) {
	var s string
	if p.Limit > 0 {
		s += " LIMIT ?"
		args = append(args, p.Limit)
	}
	if p.Offset > 0 {
		s += " OFFSET ?"
		args = append(args, p.Offset)
	}
	return s, args
}

func eventsQuery(table string, p models.QueryParams) (string, []any) {
	where, args := filter(p, true)
	tail, args := page(p, args)
	q := fmt.Sprintf("SELECT timestamp, session, mode, kind, reason, bus, can_id, value, clock_us FROM %s%s ORDER BY timestamp DESC%s",
		table, where, tail)
	return q, args
}

func framesQuery(table string, p models.QueryParams) (string, []any) {
	where, args := filter(p, false)
	tail, args := page(p, args)
	q := fmt.Sprintf("SELECT timestamp, interface, direction, bus, can_id, dlc, data, accepted, forwarded_to FROM %s%s ORDER BY timestamp DESC%s",
		table, where, tail)
	return q, args
}

func eventCountsQuery(table string, p models.QueryParams) (string, []any) {
	where, args := filter(p, true)
	q := fmt.Sprintf("SELECT kind, reason, count() AS n FROM %s%s GROUP BY kind, reason ORDER BY n DESC", table, where)
	return q, args
}

// Events returns safety events, newest first.
func (h *History) Events(ctx context.Context, p models.QueryParams) ([]models.SafetyEvent, error) {
	query, args := eventsQuery(h.config.EventTable, p)
	rows, err := h.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	events := []models.SafetyEvent{}
	for rows.Next() {
		var (
			e   models.SafetyEvent
			bus int8
		)
		if err := rows.Scan(&e.Timestamp, &e.Session, &e.Mode, &e.Kind, &e.Reason, &bus, &e.CANID, &e.Value, &e.ClockUS); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		e.Bus = int(bus)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Frames returns logged frame decisions, newest first.
func (h *History) Frames(ctx context.Context, p models.QueryParams) ([]models.CANMessageResponse, error) {
	query, args := framesQuery(h.config.FrameTable, p)
	rows, err := h.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	frames := []models.CANMessageResponse{}
	for rows.Next() {
		var (
			ts        time.Time
			iface     string
			direction string
			bus       uint8
			canID     uint32
			dlc       uint8
			data      []uint8
			accepted  bool
			fwd       int8
		)
		if err := rows.Scan(&ts, &iface, &direction, &bus, &canID, &dlc, &data, &accepted, &fwd); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		frames = append(frames, models.CANMessageResponse{
			Timestamp:   ts,
			Interface:   iface,
			Direction:   direction,
			Bus:         int(bus),
			CANID:       canID,
			CANIDHex:    fmt.Sprintf("0x%X", canID),
			DLC:         dlc,
			Data:        data,
			DataHex:     fmt.Sprintf("%X", data),
			Accepted:    accepted,
			ForwardedTo: int(fwd),
		})
	}
	return frames, rows.Err()
}

// EventCount is the number of events of one kind and reason.
type EventCount struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Count  uint64 `json:"count"`
}

// EventCounts groups events by kind and reason.
func (h *History) EventCounts(ctx context.Context, p models.QueryParams) ([]EventCount, error) {
	query, args := eventCountsQuery(h.config.EventTable, p)
	rows, err := h.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	counts := []EventCount{}
	for rows.Next() {
		var c EventCount
		if err := rows.Scan(&c.Kind, &c.Reason, &c.Count); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func statsQuery(table string, p models.QueryParams) (string, []any) {
	where, args := filter(models.QueryParams{StartTime: p.StartTime, EndTime: p.EndTime, Interface: p.Interface}, false)
	tail, args := page(p, args)
	q := fmt.Sprintf(`SELECT timestamp, interface, bus, state, bitrate, sample_point, bus_state,
		rx_error_counter, tx_error_counter, rx_packets, rx_errors, rx_dropped,
		tx_packets, tx_errors, tx_dropped, bus_off_restarts, error_warning, error_passive, bus_off
		FROM %s%s ORDER BY timestamp DESC%s`, table, where, tail)
	return q, args
}

// Stats returns interface statistics, newest first. With Limit 1 and an
// interface filter it is the latest reading for that interface.
func (h *History) Stats(ctx context.Context, p models.QueryParams) ([]models.SocketCANStats, error) {
	query, args := statsQuery(h.config.StatsTable, p)
	rows, err := h.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	stats := []models.SocketCANStats{}
	for rows.Next() {
		var (
			s            models.SocketCANStats
			bus          uint8
			bitrate      uint32
			rxErr, txErr uint32
		)
		if err := rows.Scan(&s.Timestamp, &s.Interface, &bus, &s.State, &bitrate, &s.SamplePoint, &s.BusState,
			&rxErr, &txErr, &s.RXPackets, &s.RXErrors, &s.RXDropped,
			&s.TXPackets, &s.TXErrors, &s.TXDropped, &s.BusOffRestarts, &s.ErrorWarning, &s.ErrorPassive, &s.BusOff); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		s.Bus = int(bus)
		s.Bitrate = int(bitrate)
		s.RXErrorCounter = int(rxErr)
		s.TXErrorCounter = int(txErr)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
