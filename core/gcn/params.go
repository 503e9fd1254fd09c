package gcn

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// Parameter names used in checkpoints.
const (
	ParamConv1Weight = "conv1.weight"
	ParamConv1Bias   = "conv1.bias"
	ParamConv2Weight = "conv2.weight"
	ParamConv2Bias   = "conv2.bias"
	ParamScalerMean  = "scaler.mean"
	ParamScalerStd   = "scaler.std"
)

// ParamNames lists every tensor of a state dict in serialization order.
var ParamNames = []string{
	ParamConv1Weight,
	ParamConv1Bias,
	ParamConv2Weight,
	ParamConv2Bias,
	ParamScalerMean,
	ParamScalerStd,
}

// Tensor is a named block of row-major values.
type Tensor struct {
	Shape []int
	Data  []float64
}

// Size returns the number of values implied by Shape.
func (t Tensor) Size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// StateDict maps parameter names to tensors.
type StateDict map[string]Tensor

// StateDict copies the model parameters out of m.
func (m *Model) StateDict() StateDict {
	return StateDict{
		ParamConv1Weight: denseTensor(m.Conv1.Weight),
		ParamConv1Bias:   vectorTensor(m.Conv1.Bias),
		ParamConv2Weight: denseTensor(m.Conv2.Weight),
		ParamConv2Bias:   vectorTensor(m.Conv2.Bias),
		ParamScalerMean:  vectorTensor(m.Scaler.Mean),
		ParamScalerStd:   vectorTensor(m.Scaler.Std),
	}
}

// FromStateDict rebuilds a model. Shapes must chain: conv1.weight is in×H,
// conv1.bias H, conv2.weight H×C, conv2.bias C, scaler tensors in.
func FromStateDict(sd StateDict, dropout float64) (*Model, error) {
	for _, name := range ParamNames {
		t, ok := sd[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingTensor, name)
		}
		if t.Size() != len(t.Data) {
			return nil, fmt.Errorf("%w: %s shape %v holds %d values", ErrTensorShape, name, t.Shape, len(t.Data))
		}
	}

	w1, w2 := sd[ParamConv1Weight], sd[ParamConv2Weight]
	if len(w1.Shape) != 2 || len(w2.Shape) != 2 {
		return nil, fmt.Errorf("%w: weights must be rank 2", ErrTensorShape)
	}
	in, hidden := w1.Shape[0], w1.Shape[1]
	classes := w2.Shape[1]

	if in <= 0 || hidden <= 0 || classes <= 0 {
		return nil, fmt.Errorf("%w: empty dimension in %v / %v", ErrTensorShape, w1.Shape, w2.Shape)
	}

	expect := map[string][]int{
		ParamConv1Bias:   {hidden},
		ParamConv2Weight: {hidden, classes},
		ParamConv2Bias:   {classes},
		ParamScalerMean:  {in},
		ParamScalerStd:   {in},
	}
	for name, shape := range expect {
		if !slices.Equal(sd[name].Shape, shape) {
			return nil, fmt.Errorf("%w: %s is %v, expected %v", ErrTensorShape, name, sd[name].Shape, shape)
		}
	}

	return &Model{
		Conv1: &GraphConv{
			Weight: mat.NewDense(in, hidden, slices.Clone(w1.Data)),
			Bias:   slices.Clone(sd[ParamConv1Bias].Data),
		},
		Conv2: &GraphConv{
			Weight: mat.NewDense(hidden, classes, slices.Clone(w2.Data)),
			Bias:   slices.Clone(sd[ParamConv2Bias].Data),
		},
		Scaler: Scaler{
			Mean: slices.Clone(sd[ParamScalerMean].Data),
			Std:  slices.Clone(sd[ParamScalerStd].Data),
		},
		Dropout: dropout,
	}, nil
}

func denseTensor(m *mat.Dense) Tensor {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return Tensor{Shape: []int{r, c}, Data: data}
}

func vectorTensor(v []float64) Tensor {
	return Tensor{Shape: []int{len(v)}, Data: slices.Clone(v)}
}
