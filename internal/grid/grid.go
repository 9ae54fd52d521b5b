package grid

import (
	"encoding/binary"
	"fmt"

	"github.com/x448/float16"
)

// ECMWF 0.25-degree grid with an extra wrapping column so longitude 0 and 360
// carry the same sample.
const (
	Width  = 1441
	Height = 721
)

// Field is one decoded parameter grid for a single timestep component.
type Field struct {
	Width  int
	Height int
	Values []float32
}

// SizeMismatchError is returned when a payload's byte length does not match
// the expected grid size.
type SizeMismatchError struct {
	Want int
	Got  int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("grid: payload size mismatch: expected %d bytes, got %d", e.Want, e.Got)
}

// Decoder turns raw fetched bytes into a decoded field. The cache core treats
// decoding as an external collaborator behind this interface.
type Decoder interface {
	Decode(raw []byte) (Field, error)
}

// FP16Decoder decodes little-endian fp16 binary grids as produced by the data
// pipeline.
type FP16Decoder struct{}

func (FP16Decoder) Decode(raw []byte) (Field, error) {
	return DecodeFP16(raw)
}

// DecodeFP16 decodes a little-endian fp16 payload into a float32 field.
// The payload must be exactly Width*Height values.
func DecodeFP16(raw []byte) (Field, error) {
	want := Width * Height * 2
	if len(raw) != want {
		return Field{}, &SizeMismatchError{Want: want, Got: len(raw)}
	}

	values := make([]float32, Width*Height)
	for i := range values {
		bits := binary.LittleEndian.Uint16(raw[i*2:])
		values[i] = float16.Frombits(bits).Float32()
	}

	return Field{
		Width:  Width,
		Height: Height,
		Values: values,
	}, nil
}
