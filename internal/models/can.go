package models

import (
	"fmt"
	"strings"
	"time"
)

// CANFrame represents a CAN 2.0 frame tagged with the bus it travels on
type CANFrame struct {
	ID   uint32
	Bus  int
	DLC  uint8
	Data [8]byte
}

// NewCANFrame builds a frame from a payload slice; bytes past 8 are ignored
func NewCANFrame(id uint32, bus int, data []byte) CANFrame {
	f := CANFrame{ID: id, Bus: bus}
	n := copy(f.Data[:], data)
	f.DLC = uint8(n)
	return f
}

// Payload returns the valid bytes of the frame
func (f CANFrame) Payload() []byte {
	n := int(f.DLC)
	if n > len(f.Data) {
		n = len(f.Data)
	}
	return f.Data[:n]
}

// String renders the frame in candump style, e.g. "0:122#0A0B"
func (f CANFrame) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%03X#", f.Bus, f.ID)
	for _, v := range f.Payload() {
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

// CANMessage includes the CAN frame and timestamp
type CANMessage struct {
	Frame     CANFrame
	Timestamp time.Time
	Interface string
}

// Direction tells whether a frame was received from a bus or requested for transmission
type Direction string

const (
	DirectionRX Direction = "rx"
	DirectionTX Direction = "tx"
)

// FrameRecord is one gateway decision about a frame, as stored in the frame log
type FrameRecord struct {
	Timestamp   time.Time
	Interface   string
	Direction   Direction
	Frame       CANFrame
	Accepted    bool
	ForwardedTo int // -1 when not forwarded
}

// CANMessageResponse represents a logged frame in API response
type CANMessageResponse struct {
	Timestamp   time.Time `json:"timestamp"`
	Interface   string    `json:"interface"`
	Direction   string    `json:"direction"`
	Bus         int       `json:"bus"`
	CANID       uint32    `json:"can_id"`
	CANIDHex    string    `json:"can_id_hex"`
	DLC         uint8     `json:"dlc"`
	Data        []uint8   `json:"data"`
	DataHex     string    `json:"data_hex"`
	Accepted    bool      `json:"accepted"`
	ForwardedTo int       `json:"forwarded_to"`
}
