package tensor

import "math"

// GELU applies the Gaussian Error Linear Unit activation function.
//
// The GELU function is defined as:
//
//	GELU(x) = 0.5 * x * (1 + tanh(sqrt(2/π) * (x + 0.044715 * x^3)))
//
// This is the tanh approximation used by the reference vision transformer
// MLP blocks and is cheaper to compute than the exact formulation.
//
// Reference: https://arxiv.org/abs/1606.08415
//
// Input: tensor of any shape
// Output: tensor of the same shape with GELU applied element-wise
func (t *Tensor) GELU() *Tensor {
	result := NewTensor(t.Shape)

	// GELU approximation constants
	const (
		sqrt2OverPi = 0.7978845608 // sqrt(2/π)
		coeff       = 0.044715
	)

	for i := range t.Data {
		x := t.Data[i]
		x3 := x * x * x
		inner := x + coeff*x3
		tanhVal := float32(math.Tanh(float64(sqrt2OverPi * inner)))
		result.Data[i] = 0.5 * x * (1 + tanhVal)
	}

	return result
}

// GELU is a standalone function that applies GELU to a tensor.
// This is a convenience wrapper around the Tensor.GELU method.
func GELU(t *Tensor) *Tensor {
	return t.GELU()
}

// Tanh applies the hyperbolic tangent element-wise.
// Used by the optional pre-logits representation layer.
func (t *Tensor) Tanh() *Tensor {
	result := NewTensor(t.Shape)
	for i := range t.Data {
		result.Data[i] = float32(math.Tanh(float64(t.Data[i])))
	}
	return result
}

// Tanh is a standalone function that applies Tanh to a tensor.
func Tanh(t *Tensor) *Tensor {
	return t.Tanh()
}
