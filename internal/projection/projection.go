// Package projection implements the random-projection pre-filter that
// accelerates kNN scans: K=8 near-orthonormal basis vectors per embedding
// service, the projection of a stored vector onto them, and the squared
// Euclidean distance used as an upper-bound acceptance filter (spec.md §4.3).
package projection

import (
	"math"
	"math/rand"

	"github.com/trans/memo/internal/store"
)

// K is the fixed projection dimensionality, mirrored from store.ProjectionK
// so callers in this package don't need to import store just for the constant.
const K = store.ProjectionK

// DefaultThreshold is τ, the default squared-distance acceptance bound. It
// is deliberately generous: the filter must never reject a true match, only
// cheaply discard obviously-distant candidates before the cosine pass.
const DefaultThreshold = 2.0

// GenerateOrthonormal returns K vectors of length dimensions, built by
// Gram-Schmidt orthogonalization of uniformly random inputs in [-1, 1] and
// normalized to unit length. rnd is caller-supplied so callers can make
// generation deterministic in tests; pass rand.New(rand.NewSource(seed)).
func GenerateOrthonormal(dimensions int, rnd *rand.Rand) [K][]float64 {
	var basis [K][]float64
	for i := 0; i < K; i++ {
		v := randomVector(dimensions, rnd)
		for j := 0; j < i; j++ {
			v = subtractProjection(v, basis[j])
		}
		basis[i] = normalize(v)
	}
	return basis
}

func randomVector(dimensions int, rnd *rand.Rand) []float64 {
	v := make([]float64, dimensions)
	for i := range v {
		v[i] = rnd.Float64()*2 - 1
	}
	return v
}

// subtractProjection removes the component of v along the unit vector u.
func subtractProjection(v, u []float64) []float64 {
	d := dot(v, u)
	out := make([]float64, len(v))
	for i := range v {
		out[i] = v[i] - d*u[i]
	}
	return out
}

func normalize(v []float64) []float64 {
	n := math.Sqrt(dot(v, v))
	out := make([]float64, len(v))
	if n == 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// ComputeProjection returns the K dot products of vec against each basis vector.
func ComputeProjection(vec []float64, basis [K][]float64) [K]float64 {
	var out [K]float64
	for i, v := range basis {
		out[i] = dot(vec, v)
	}
	return out
}

// ComputeProjectionF32 is ComputeProjection for float32 embedding vectors,
// the common case since stored embeddings decode to []float32.
func ComputeProjectionF32(vec []float32, basis [K][]float64) [K]float64 {
	var out [K]float64
	for i, v := range basis {
		var sum float64
		for j, x := range vec {
			sum += float64(x) * v[j]
		}
		out[i] = sum
	}
	return out
}

// DistanceSq is the squared Euclidean distance between two K-dimensional
// projections, the quantity thresholded by the search filter.
func DistanceSq(a, b [K]float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// BasisToStore converts a generated basis to the [8][]float32 shape
// persisted by store.SaveProjectionVectors (vectors are f32-truncated on
// disk like embeddings).
func BasisToStore(basis [K][]float64) [K][]float32 {
	var out [K][]float32
	for i, v := range basis {
		f32 := make([]float32, len(v))
		for j, x := range v {
			f32[j] = float32(x)
		}
		out[i] = f32
	}
	return out
}

// BasisFromStore is the inverse of BasisToStore.
func BasisFromStore(vecs [K][]float32) [K][]float64 {
	var out [K][]float64
	for i, v := range vecs {
		f64 := make([]float64, len(v))
		for j, x := range v {
			f64[j] = float64(x)
		}
		out[i] = f64
	}
	return out
}
