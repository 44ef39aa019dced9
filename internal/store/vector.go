package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SerializeVector encodes a vector of 64-bit floats as N little-endian
// IEEE-754 32-bit floats. This f32 truncation is the designed precision
// loss (spec.md §4.1) and applies uniformly to stored embeddings and to
// projection basis vectors.
func SerializeVector(vec []float64) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	return buf
}

// SerializeVectorF32 encodes a []float32 vector directly, skipping the
// float64 round trip used when the caller already has float32 precision
// (e.g. embeddings returned by a Provider).
func SerializeVectorF32(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DeserializeVector decodes a little-endian f32 blob into a float64 slice.
// N is inferred from len(blob)/4.
func DeserializeVector(blob []byte) ([]float64, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	n := len(blob) / 4
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		out[i] = float64(math.Float32frombits(bits))
	}
	return out, nil
}

// DeserializeVectorF32 decodes a little-endian f32 blob into a float32 slice.
func DeserializeVectorF32(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	n := len(blob) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}
