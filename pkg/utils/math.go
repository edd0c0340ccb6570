package utils

import "math"

// NormalizeL2 normalizes the slice in place to unit L2 norm.
// If the norm is zero, the slice is unchanged.
func NormalizeL2(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}

// MeanPool averages rows of a row-major [tokens x dim] matrix, counting only rows whose
// mask entry is non-zero. A nil mask counts every row.
func MeanPool(data []float32, mask []int64, dim int) []float32 {
	out := make([]float32, dim)
	if dim <= 0 {
		return out
	}
	rows := len(data) / dim
	var n float32
	for r := 0; r < rows; r++ {
		if mask != nil && (r >= len(mask) || mask[r] == 0) {
			continue
		}
		row := data[r*dim : (r+1)*dim]
		for i, v := range row {
			out[i] += v
		}
		n++
	}
	if n > 0 {
		for i := range out {
			out[i] /= n
		}
	}
	return out
}
