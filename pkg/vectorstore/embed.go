package vectorstore

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"strings"
)

// embeddingDim is the fixed dimensionality of document vectors.
const embeddingDim = 256

// embed maps text to a unit vector via feature hashing of words and
// word bigrams. Deterministic and dependency-free; semantically close
// texts share tokens and therefore direction.
func embed(text string) []float32 {
	vec := make([]float32, embeddingDim)
	words := tokenize(text)
	for i, w := range words {
		addFeature(vec, w, 1)
		if i > 0 {
			addFeature(vec, words[i-1]+" "+w, 0.5)
		}
	}
	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	lower := strings.ToLower(text)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

// addFeature hashes the token twice: once for the bucket, once for the
// sign, which keeps hash collisions from biasing the vector.
func addFeature(vec []float32, token string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(token))
	sum := h.Sum64()
	bucket := sum % embeddingDim
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}

// cosineRelevance returns similarity in [0,1] for unit vectors,
// clamping tiny negative values from float error.
func cosineRelevance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return clampRelevance(dot)
}

// clampRelevance maps a cosine similarity to [0,1]. NaN, from a
// degenerate zero vector, counts as no relevance.
func clampRelevance(sim float64) float64 {
	if math.IsNaN(sim) || sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
