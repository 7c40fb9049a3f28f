package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"scaled", []float32{2, 2}, []float32{1, 1}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCosineSimilarityErrors(t *testing.T) {
	_, err := CosineSimilarity(nil, []float32{1})
	assert.ErrorIs(t, err, ErrEmptyVector)

	_, err = CosineSimilarity([]float32{1, 2}, []float32{1})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
