package model

import (
	"fmt"

	"govit/pkg/tensor"
)

// Linear is a fully connected layer: output = x @ W + b.
//
// The weight is stored as (in_features, out_features) so the forward pass is
// a plain matmul over the last input dimension, following the layout used by
// the rest of the model.
type Linear struct {
	Weight *tensor.Tensor // (in_features, out_features)
	Bias   *tensor.Tensor // (out_features), nil when the layer has no bias
	DIn    int
	DOut   int
}

// NewLinear creates a linear layer with zero-initialized parameters.
// Weights receive their actual initialization from the model init pass.
func NewLinear(dIn, dOut int, bias bool) *Linear {
	l := &Linear{
		Weight: tensor.NewTensor([]int{dIn, dOut}),
		DIn:    dIn,
		DOut:   dOut,
	}
	if bias {
		l.Bias = tensor.NewTensor([]int{dOut})
	}
	return l
}

// Forward applies the linear map to the last dimension of x.
//
// Input shape: (..., in_features)
// Output shape: (..., out_features)
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("linear: expected at least 2D input, got %dD with shape %v",
			len(x.Shape), x.Shape)
	}

	lastDim := x.Shape[len(x.Shape)-1]
	if lastDim != l.DIn {
		return nil, fmt.Errorf("linear: input dimension %d doesn't match weight input dimension %d",
			lastDim, l.DIn)
	}

	out, err := tensor.Matmul(x, l.Weight)
	if err != nil {
		return nil, fmt.Errorf("linear: %w", err)
	}

	if l.Bias != nil {
		out, err = tensor.Add(out, l.Bias)
		if err != nil {
			return nil, fmt.Errorf("linear: failed to add bias: %w", err)
		}
	}

	return out, nil
}
