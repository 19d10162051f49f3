package tensor

import (
	"math/rand"
	"time"
)

// Dropout randomly zeros out elements with probability p during training.
// During inference (training=false), returns input unchanged.
//
// Parameters:
//   - t: input tensor
//   - p: dropout probability (0.0 to 1.0)
//   - training: if true, apply dropout; if false, return input unchanged
//
// Returns:
//   - Tensor with dropout applied (if training)
func (t *Tensor) Dropout(p float32, training bool) *Tensor {
	if !training || p == 0 {
		return t.Clone()
	}

	if p < 0 || p > 1 {
		panic("dropout probability must be between 0 and 1")
	}

	if dropoutRand == nil {
		dropoutRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	result := NewTensor(t.Shape)
	scale := 1.0 / (1.0 - p) // Inverted dropout scaling

	for i := range t.Data {
		if dropoutRand.Float32() >= p {
			result.Data[i] = t.Data[i] * float32(scale)
		} else {
			result.Data[i] = 0
		}
	}

	return result
}

// DropPath applies stochastic depth: with probability p, the entire sample
// along the leading batch dimension is zeroed; surviving samples are scaled
// by 1/(1-p). This is applied to residual branches so that a dropped sample
// skips the branch entirely.
//
// p=0 or eval mode is the identity (modulo a defensive copy); p>=1 during
// training drops every sample.
func (t *Tensor) DropPath(p float32, training bool) *Tensor {
	if !training || p == 0 {
		return t.Clone()
	}

	if p < 0 {
		panic("drop path probability must be non-negative")
	}

	result := NewTensor(t.Shape)

	if p >= 1 {
		return result
	}

	if dropoutRand == nil {
		dropoutRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	batch := t.Shape[0]
	sampleSize := len(t.Data) / batch
	scale := float32(1.0 / (1.0 - p))

	for b := 0; b < batch; b++ {
		if dropoutRand.Float32() < p {
			continue // whole sample dropped, stays zero
		}
		offset := b * sampleSize
		for i := 0; i < sampleSize; i++ {
			result.Data[offset+i] = t.Data[offset+i] * scale
		}
	}

	return result
}

// dropoutRand is a package-level random number generator for dropout
var dropoutRand *rand.Rand

// SetDropoutSeed sets the random seed for dropout and drop path (useful for testing)
func SetDropoutSeed(seed int64) {
	dropoutRand = rand.New(rand.NewSource(seed))
}

// ApplyDropout applies dropout to a tensor using the given probability and training mode.
// This is a convenience function that calls the Dropout method.
func ApplyDropout(t *Tensor, p float32, training bool) *Tensor {
	return t.Dropout(p, training)
}
