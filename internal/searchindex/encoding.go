package searchindex

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector packs v as little-endian IEEE 754 float32 values.
func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// decodeVector reverses encodeVector. The length comes from the blob size.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// usableVector reports whether v can be scored by cosine distance: every
// component finite and the norm non-zero.
func usableVector(v []float32) bool {
	var sum float64
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
		sum += float64(f) * float64(f)
	}
	return sum > 0 && !math.IsInf(sum, 0)
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// cosineScore maps a cosine distance in [0, 2] to a relevance score in
// (0, 1], matching the remote service's 1/(1+d) convention. A distance that
// is not a number scores 0.
func cosineScore(distance float32) float64 {
	d := float64(distance)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return 1 / (1 + d)
}
