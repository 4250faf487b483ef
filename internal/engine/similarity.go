package engine

import "math"

// Similarity scores how close two embedding vectors are. Higher is closer.
// The exact metric is pluggable; Cosine is the default.
type Similarity interface {
	Score(a, b []float32) float64
}

// Cosine is cosine similarity in [-1, 1]. Mismatched dimensions or a zero
// vector score 0.
type Cosine struct{}

func (Cosine) Score(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
