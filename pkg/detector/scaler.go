package detector

import "math"

// StandardScaler centers each feature to zero mean and scales it to unit
// variance, mirroring the transform fit at training time so predictions
// see inputs in the same space the model learned.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-feature mean and standard deviation over the
// training matrix. Constant features get unit scale so transforming them
// is a no-op instead of a division by zero.
func FitScaler(data [][]float64) *StandardScaler {
	if len(data) == 0 {
		return &StandardScaler{}
	}
	n := float64(len(data))
	dims := len(data[0])

	mean := make([]float64, dims)
	for _, row := range data {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}

	scale := make([]float64, dims)
	for _, row := range data {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}

	return &StandardScaler{Mean: mean, Scale: scale}
}

// Transform returns the scaled copy of one vector.
func (s *StandardScaler) Transform(vec []float64) []float64 {
	out := make([]float64, len(vec))
	for j, v := range vec {
		if j < len(s.Mean) {
			out[j] = (v - s.Mean[j]) / s.Scale[j]
		} else {
			out[j] = v
		}
	}
	return out
}

// TransformAll scales a whole matrix.
func (s *StandardScaler) TransformAll(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		out[i] = s.Transform(row)
	}
	return out
}

// Sanitize replaces non-finite values with bounded sentinels: NaN becomes
// zero, infinities clamp to ±1e10. Model input must always be finite.
func Sanitize(vec []float64) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		switch {
		case math.IsNaN(v):
			out[i] = 0
		case math.IsInf(v, 1):
			out[i] = 1e10
		case math.IsInf(v, -1):
			out[i] = -1e10
		default:
			out[i] = v
		}
	}
	return out
}

// SanitizeAll applies Sanitize to every row.
func SanitizeAll(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		out[i] = Sanitize(row)
	}
	return out
}
