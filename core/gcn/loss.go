package gcn

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LogSoftmax converts each row of logits into log-probabilities in place.
// floats.LogSumExp subtracts the row maximum before exponentiating.
func LogSoftmax(logits *mat.Dense) *mat.Dense {
	r, _ := logits.Dims()
	for i := 0; i < r; i++ {
		row := logits.RawRowView(i)
		floats.AddConst(-floats.LogSumExp(row), row)
	}
	return logits
}

// NLLLoss is the mean negative log-probability of the true classes.
func NLLLoss(logp *mat.Dense, labels []int) float64 {
	var total float64
	for i, y := range labels {
		total -= logp.At(i, y)
	}
	return total / float64(len(labels))
}

// Predictions returns the argmax class of every row.
func Predictions(logp *mat.Dense) []int {
	r, _ := logp.Dims()
	out := make([]int, r)
	for i := range out {
		out[i] = floats.MaxIdx(logp.RawRowView(i))
	}
	return out
}

// Accuracy is the fraction of rows whose argmax equals the label.
func Accuracy(logp *mat.Dense, labels []int) float64 {
	if len(labels) == 0 {
		return 0
	}
	correct := 0
	for i, p := range Predictions(logp) {
		if p == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

// Finite reports whether every entry of m is a finite number.
func Finite(m *mat.Dense) bool {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for _, v := range m.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// nllGrad returns d(NLL)/d(logits) for a log-softmax output:
// (softmax - onehot) / N.
func nllGrad(logp *mat.Dense, labels []int) *mat.Dense {
	r, c := logp.Dims()
	grad := mat.NewDense(r, c, nil)
	scale := 1 / float64(r)
	for i := 0; i < r; i++ {
		src := logp.RawRowView(i)
		dst := grad.RawRowView(i)
		for j, lp := range src {
			dst[j] = math.Exp(lp) * scale
		}
		dst[labels[i]] -= scale
	}
	return grad
}
