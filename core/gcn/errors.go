package gcn

import "errors"

var (
	ErrEmptyGraph     = errors.New("graph has no nodes")
	ErrEdgeOutOfRange = errors.New("edge endpoint out of range")
	ErrFeatureShape   = errors.New("feature matrix shape mismatch")
	ErrMissingTensor  = errors.New("missing parameter tensor")
	ErrTensorShape    = errors.New("parameter tensor shape mismatch")
	ErrLabelCount     = errors.New("label count does not match node count")
)
