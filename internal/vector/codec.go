package vector

import (
	"encoding/binary"
	"math"
)

// EncodeFloat32s returns the little-endian IEEE-754 encoding of s.
func EncodeFloat32s(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

// DecodeFloat32s decodes a buffer produced by EncodeFloat32s. Trailing bytes that do not
// form a whole float are ignored.
func DecodeFloat32s(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
