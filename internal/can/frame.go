package can

import (
	"encoding/binary"
	"errors"
	"fmt"

	"can-safety-gateway/internal/models"
)

// FrameSize is the size of a Linux struct can_frame.
const FrameSize = 16

// can_id flag bits
const (
	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000
	sffMask = 0x000007FF
	effMask = 0x1FFFFFFF
)

var (
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("can: bus closed")
	// ErrUnsupportedFrame is returned for remote and error frames.
	ErrUnsupportedFrame = errors.New("can: unsupported frame type")
)

// EncodeFrame serializes f into the 16 byte can_frame layout. Identifiers
// above the 11-bit range are sent as extended frames.
func EncodeFrame(f models.CANFrame) ([]byte, error) {
	if f.DLC > 8 {
		return nil, fmt.Errorf("can: dlc %d out of range", f.DLC)
	}
	if f.ID > effMask {
		return nil, fmt.Errorf("can: id %#x out of range", f.ID)
	}
	id := f.ID
	if id > sffMask {
		id |= effFlag
	}
	buf := make([]byte, FrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = f.DLC
	copy(buf[8:], f.Data[:f.DLC])
	return buf, nil
}

// DecodeFrame parses a 16 byte can_frame. The bus index is left at zero.
func DecodeFrame(buf []byte) (models.CANFrame, error) {
	if len(buf) < FrameSize {
		return models.CANFrame{}, fmt.Errorf("can: incomplete frame: %d bytes", len(buf))
	}
	raw := binary.LittleEndian.Uint32(buf[0:4])
	if raw&(rtrFlag|errFlag) != 0 {
		return models.CANFrame{}, ErrUnsupportedFrame
	}
	f := models.CANFrame{DLC: buf[4]}
	if raw&effFlag != 0 {
		f.ID = raw & effMask
	} else {
		f.ID = raw & sffMask
	}
	if f.DLC > 8 {
		f.DLC = 8
	}
	copy(f.Data[:], buf[8:8+int(f.DLC)])
	return f, nil
}
