package replay

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"can-safety-gateway/internal/models"
)

// LogFrame is one line of a candump log.
type LogFrame struct {
	Timestamp time.Time
	Interface string
	Frame     models.CANFrame
}

// errSkip marks well-formed lines that carry no classic data frame.
var errSkip = errors.New("skip")

// ParseCandump reads a log written by `candump -l` or `candump -L`:
//
//	(1436509052.249713) can0 123#DEADBEEF
//
// Remote frames and CAN FD frames are skipped. Bus is left zero; the
// replayer assigns it from the interface.
func ParseCandump(r io.Reader) ([]LogFrame, error) {
	var frames []LogFrame
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f, err := parseCandumpLine(line)
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		frames = append(frames, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return frames, nil
}

func parseCandumpLine(line string) (LogFrame, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return LogFrame{}, fmt.Errorf("expected (timestamp) interface frame, got %q", line)
	}

	ts, err := parseTimestamp(fields[0])
	if err != nil {
		return LogFrame{}, err
	}

	idStr, dataStr, ok := strings.Cut(fields[2], "#")
	if !ok {
		return LogFrame{}, fmt.Errorf("missing '#' in %q", fields[2])
	}
	if strings.HasPrefix(dataStr, "#") || strings.HasPrefix(strings.ToUpper(dataStr), "R") {
		return LogFrame{}, errSkip
	}

	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil {
		return LogFrame{}, fmt.Errorf("invalid id %q: %w", idStr, err)
	}
	if id > 0x1FFFFFFF || (len(idStr) <= 3 && id > 0x7FF) {
		return LogFrame{}, fmt.Errorf("id %q out of range", idStr)
	}

	data, err := hex.DecodeString(strings.ReplaceAll(dataStr, ".", ""))
	if err != nil {
		return LogFrame{}, fmt.Errorf("invalid data %q: %w", dataStr, err)
	}
	if len(data) > 8 {
		return LogFrame{}, fmt.Errorf("data %q longer than 8 bytes", dataStr)
	}

	return LogFrame{
		Timestamp: ts,
		Interface: fields[1],
		Frame:     models.NewCANFrame(uint32(id), 0, data),
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if len(s) < 3 || s[0] != '(' || s[len(s)-1] != ')' {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	secStr, fracStr, _ := strings.Cut(s[1:len(s)-1], ".")
	sec, err := strconv.ParseInt(secStr, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	var nsec int64
	if fracStr != "" {
		if len(fracStr) > 9 {
			fracStr = fracStr[:9]
		}
		frac, err := strconv.ParseInt(fracStr, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		for i := len(fracStr); i < 9; i++ {
			frac *= 10
		}
		nsec = frac
	}
	return time.Unix(sec, nsec).UTC(), nil
}
