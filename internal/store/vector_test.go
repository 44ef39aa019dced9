package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeVectorF32_RoundTrip(t *testing.T) {
	in := []float32{1.5, -2.25, 0, 3.125}
	blob := SerializeVectorF32(in)
	out, err := DeserializeVectorF32(blob)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSerializeVector_TruncatesToF32Precision(t *testing.T) {
	in := []float64{1.0 / 3.0}
	blob := SerializeVector(in)
	out, err := DeserializeVector(blob)
	require.NoError(t, err)
	assert.NotEqual(t, in[0], out[0], "f64->f32->f64 round trip loses precision by design")
	assert.InDelta(t, in[0], out[0], 1e-6)
}

func TestDeserializeVector_RejectsMisalignedLength(t *testing.T) {
	_, err := DeserializeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestHash_Deterministic(t *testing.T) {
	a := Hash("hello")
	b := Hash("hello")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Hash("world"))
}

func TestHashHex_IsLowercaseHex(t *testing.T) {
	h := Hash("x")
	hexStr := HashHex(h)
	assert.Len(t, hexStr, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", hexStr)
}
