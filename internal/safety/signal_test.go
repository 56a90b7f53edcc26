package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"can-safety-gateway/internal/models"
)

func TestSignal_SignedField(t *testing.T) {
	f := models.CANFrame{DLC: 8, Data: [8]byte{0x00, 0x00, 0xFF, 0x07}}

	assert.Equal(t, int64(-1), Signal{Start: 16, Length: 11, Signed: true}.Raw(f))
	assert.Equal(t, int64(1), Signal{Start: 16, Length: 11, Signed: true, Negate: true}.Raw(f))
	assert.Equal(t, int64(0x7FF), Signal{Start: 16, Length: 11}.Raw(f))
}

func TestSignal_Bool(t *testing.T) {
	f := models.CANFrame{DLC: 8, Data: [8]byte{0, 0, 0, 0, 0, 0x02}}
	assert.True(t, Signal{Start: 41, Length: 1}.Bool(f))
	assert.False(t, Signal{Start: 40, Length: 1}.Bool(f))
}

func TestSignal_PutPreservesNeighbours(t *testing.T) {
	f := models.CANFrame{DLC: 8, Data: [8]byte{0, 0, 0xAA, 0xF8}}
	sig := Signal{Start: 16, Length: 11, Signed: true}

	sig.Put(&f, 5)
	assert.Equal(t, byte(0x05), f.Data[2])
	assert.Equal(t, byte(0xF8), f.Data[3])
	assert.Equal(t, 5, sig.Int(f))

	sig.Put(&f, -5)
	assert.Equal(t, -5, sig.Int(f))
	assert.Equal(t, byte(0xF8), f.Data[3]&0xF8)
}

func TestSignal_PutNegated(t *testing.T) {
	var f models.CANFrame
	sig := Signal{Start: 16, Length: 13, Signed: true, Negate: true}
	sig.Put(&f, 2047)
	assert.Equal(t, [8]byte{0, 0, 0x01, 0x18}, f.Data)
	assert.Equal(t, 2047, sig.Int(f))
}
