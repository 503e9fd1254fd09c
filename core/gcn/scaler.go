package gcn

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes feature columns before the first convolution.
// Raw income is four orders of magnitude larger than dharma_score, so the
// network only ever sees (x - Mean) / Std.
type Scaler struct {
	Mean []float64
	Std  []float64
}

// IdentityScaler leaves d columns unchanged.
func IdentityScaler(d int) Scaler {
	s := Scaler{Mean: make([]float64, d), Std: make([]float64, d)}
	for i := range s.Std {
		s.Std[i] = 1
	}
	return s
}

// FitScaler computes per-column mean and standard deviation of x.
// Constant columns get a standard deviation of 1.
func FitScaler(x *mat.Dense) Scaler {
	_, d := x.Dims()
	s := Scaler{Mean: make([]float64, d), Std: make([]float64, d)}
	for j := 0; j < d; j++ {
		col := mat.Col(nil, j, x)
		mean, std := stat.MeanStdDev(col, nil)
		if !(std > 0) {
			std = 1
		}
		s.Mean[j] = mean
		s.Std[j] = std
	}
	return s
}

// Transform returns a standardized copy of x.
func (s Scaler) Transform(x *mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(x)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] = (row[j] - s.Mean[j]) / s.Std[j]
		}
	}
	return out
}

func (s Scaler) clone() Scaler {
	return Scaler{
		Mean: append([]float64(nil), s.Mean...),
		Std:  append([]float64(nil), s.Std...),
	}
}
