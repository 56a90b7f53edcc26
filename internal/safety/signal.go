package safety

import (
	"go.einride.tech/can"

	"can-safety-gateway/internal/models"
)

// Signal describes a little-endian bit field inside a classic CAN payload.
// Start is the bit index counted from the LSB of byte 0.
type Signal struct {
	Start  uint8
	Length uint8
	Signed bool
	// Negate flips the sign after extraction, for signals whose physical
	// direction is opposite to the gateway's convention.
	Negate bool
}

// Raw extracts the field from the frame payload.
func (s Signal) Raw(f models.CANFrame) int64 {
	data := can.Data(f.Data)
	var v int64
	if s.Signed {
		v = data.SignedBitsLittleEndian(s.Start, s.Length)
	} else {
		v = int64(data.UnsignedBitsLittleEndian(s.Start, s.Length))
	}
	if s.Negate {
		v = -v
	}
	return v
}

// Int extracts the field as an int.
func (s Signal) Int(f models.CANFrame) int {
	return int(s.Raw(f))
}

// Bool reports whether the field is nonzero.
func (s Signal) Bool(f models.CANFrame) bool {
	return s.Raw(f) != 0
}

// Put writes v into the field of f, applying the inverse of Negate. Bits
// outside the field are preserved.
func (s Signal) Put(f *models.CANFrame, v int64) {
	if s.Negate {
		v = -v
	}
	data := can.Data(f.Data)
	if s.Signed {
		data.SetSignedBitsLittleEndian(s.Start, s.Length, v)
	} else {
		data.SetUnsignedBitsLittleEndian(s.Start, s.Length, uint64(v))
	}
	f.Data = [8]byte(data)
}
