package attention

import (
	"fmt"
	"math"

	"govit/pkg/tensor"
)

// Config holds configuration for a ValueResidualAttention layer.
type Config struct {
	// Dim is the embedding dimension (input and output)
	Dim int

	// NumHeads is the number of attention heads
	NumHeads int

	// QKVBias enables bias on the fused QKV projection
	QKVBias bool

	// AttnDropout is applied to attention weights
	AttnDropout float32

	// ProjDropout is applied after the output projection
	ProjDropout float32

	// Alpha is the mixing coefficient of the value-residual correction
	Alpha float32

	// First marks the first layer of the stack: it exports its value tensor
	// instead of consuming a value residual
	First bool
}

// ValueResidualAttention implements scaled dot-product multi-head attention
// augmented with a value-residual correction.
//
// The first layer of the stack returns its value tensor v alongside the
// output (via ForwardFirst); every later layer receives that v0 and adds
//
//	correction = alpha * g_adj(v0 - g(v))
//
// to the attention output before the final projection, where g is a learned
// 1x1 convolution over the head dimension and g_adj its adjoint application.
// The first/other split is fixed at construction; it is never inferred from
// a layer index at call time.
type ValueResidualAttention struct {
	NumHeads int
	HeadDim  int
	Dim      int
	Scale    float32
	Alpha    float32
	First    bool

	AttnDropout float32
	ProjDropout float32

	WQKV  *tensor.Tensor // (dim, 3*dim) fused query/key/value projection
	BQKV  *tensor.Tensor // (3*dim,), nil without QKV bias
	WProj *tensor.Tensor // (dim, dim) output projection
	BProj *tensor.Tensor // (dim,)
	Conv  *AdjointConv1D // value-residual operator over the head dimension
}

// NewValueResidualAttention creates a new attention layer.
// An embedding dimension that is not divisible by the head count is a fatal
// configuration error.
func NewValueResidualAttention(config Config) *ValueResidualAttention {
	if config.NumHeads <= 0 || config.Dim%config.NumHeads != 0 {
		panic(fmt.Sprintf("dim (%d) must be divisible by num_heads (%d)", config.Dim, config.NumHeads))
	}

	headDim := config.Dim / config.NumHeads

	attn := &ValueResidualAttention{
		NumHeads:    config.NumHeads,
		HeadDim:     headDim,
		Dim:         config.Dim,
		Scale:       float32(1.0 / math.Sqrt(float64(headDim))),
		Alpha:       config.Alpha,
		First:       config.First,
		AttnDropout: config.AttnDropout,
		ProjDropout: config.ProjDropout,
		WQKV:        tensor.NewTensor([]int{config.Dim, 3 * config.Dim}),
		WProj:       tensor.NewTensor([]int{config.Dim, config.Dim}),
		BProj:       tensor.NewTensor([]int{config.Dim}),
		Conv:        NewAdjointConv1D(headDim, 1),
	}
	if config.QKVBias {
		attn.BQKV = tensor.NewTensor([]int{3 * config.Dim})
	}

	return attn
}

// ForwardFirst computes attention for the first layer of the stack.
//
// Input shape: (batch, seq, dim)
// Returns the attention output (batch, seq, dim) and the value tensor
// (batch, num_heads, seq, head_dim) that later layers consume as v0.
func (m *ValueResidualAttention) ForwardFirst(x *tensor.Tensor, training bool) (*tensor.Tensor, *tensor.Tensor, error) {
	if !m.First {
		return nil, nil, fmt.Errorf("ForwardFirst called on a non-first attention layer")
	}

	q, k, v, err := m.projectQKV(x)
	if err != nil {
		return nil, nil, err
	}

	ctx, err := m.attend(q, k, v, training)
	if err != nil {
		return nil, nil, err
	}

	out, err := m.project(ctx, x.Shape[0], x.Shape[1], training)
	if err != nil {
		return nil, nil, err
	}

	return out, v, nil
}

// Forward computes attention for a non-first layer, adding the
// value-residual correction derived from v0.
//
// Input shapes:
//   - x: (batch, seq, dim)
//   - v0: (batch, num_heads, seq, head_dim), the first layer's value tensor
//
// A nil v0 is a contract violation, never treated as a zero correction.
func (m *ValueResidualAttention) Forward(x, v0 *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if m.First {
		return nil, fmt.Errorf("Forward called on the first attention layer; use ForwardFirst")
	}
	if v0 == nil {
		return nil, fmt.Errorf("missing v0: non-first attention layers require the first layer's value tensor")
	}

	q, k, v, err := m.projectQKV(x)
	if err != nil {
		return nil, err
	}

	if !v0.ShapeEquals(v) {
		return nil, fmt.Errorf("v0 shape %v doesn't match value tensor shape %v", v0.Shape, v.Shape)
	}

	ctx, err := m.attend(q, k, v, training)
	if err != nil {
		return nil, err
	}

	correction, err := m.valueResidual(v0, v)
	if err != nil {
		return nil, err
	}

	ctx, err = tensor.Add(ctx, correction)
	if err != nil {
		return nil, fmt.Errorf("failed to add value-residual correction: %w", err)
	}

	return m.project(ctx, x.Shape[0], x.Shape[1], training)
}

// projectQKV applies the fused QKV projection and splits the result into
// per-head query, key, and value tensors of shape (batch, num_heads, seq, head_dim).
func (m *ValueResidualAttention) projectQKV(x *tensor.Tensor) (q, k, v *tensor.Tensor, err error) {
	if len(x.Shape) != 3 {
		return nil, nil, nil, fmt.Errorf("expected 3D input (batch, seq, dim), got %dD with shape %v",
			len(x.Shape), x.Shape)
	}

	batchSize, seqLen, dim := x.Shape[0], x.Shape[1], x.Shape[2]
	if dim != m.Dim {
		return nil, nil, nil, fmt.Errorf("input dimension %d doesn't match expected %d", dim, m.Dim)
	}

	qkv, err := tensor.Matmul(x, m.WQKV)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to compute QKV projection: %w", err)
	}
	if m.BQKV != nil {
		qkv, err = tensor.Add(qkv, m.BQKV)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to add QKV bias: %w", err)
		}
	}

	// Split (batch, seq, 3*dim) into three (batch, seq, dim) tensors
	qFlat := tensor.NewTensor([]int{batchSize, seqLen, dim})
	kFlat := tensor.NewTensor([]int{batchSize, seqLen, dim})
	vFlat := tensor.NewTensor([]int{batchSize, seqLen, dim})
	for b := 0; b < batchSize; b++ {
		for s := 0; s < seqLen; s++ {
			src := (b*seqLen + s) * 3 * dim
			dst := (b*seqLen + s) * dim
			copy(qFlat.Data[dst:dst+dim], qkv.Data[src:src+dim])
			copy(kFlat.Data[dst:dst+dim], qkv.Data[src+dim:src+2*dim])
			copy(vFlat.Data[dst:dst+dim], qkv.Data[src+2*dim:src+3*dim])
		}
	}

	// Reshape to (batch, num_heads, seq, head_dim)
	q, err = qFlat.Reshape([]int{batchSize, seqLen, m.NumHeads, m.HeadDim}).Transpose(1, 2)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to transpose Q: %w", err)
	}
	k, err = kFlat.Reshape([]int{batchSize, seqLen, m.NumHeads, m.HeadDim}).Transpose(1, 2)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to transpose K: %w", err)
	}
	v, err = vFlat.Reshape([]int{batchSize, seqLen, m.NumHeads, m.HeadDim}).Transpose(1, 2)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to transpose V: %w", err)
	}

	return q, k, v, nil
}

// attend computes softmax(Q K^T / sqrt(head_dim)) V.
//
// Inputs are (batch, num_heads, seq, head_dim); output has the same shape.
func (m *ValueResidualAttention) attend(q, k, v *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	kT, err := k.Transpose(2, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to transpose K: %w", err)
	}

	scores, err := tensor.Matmul(q, kT)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention scores: %w", err)
	}
	scores = scores.Scale(m.Scale)

	weights, err := tensor.Softmax(scores, len(scores.Shape)-1)
	if err != nil {
		return nil, fmt.Errorf("failed to apply softmax: %w", err)
	}

	if m.AttnDropout > 0 {
		weights = weights.Dropout(m.AttnDropout, training)
	}

	ctx, err := tensor.Matmul(weights, v)
	if err != nil {
		return nil, fmt.Errorf("failed to apply attention to V: %w", err)
	}

	return ctx, nil
}

// valueResidual computes alpha * g_adj(v0 - g(v)).
//
// v0 and v are (batch, num_heads, seq, head_dim). The head dimension becomes
// the channel axis of the 1D convolution, so both tensors are reshaped to
// (batch*num_heads, head_dim, seq) before the operator is applied.
func (m *ValueResidualAttention) valueResidual(v0, v *tensor.Tensor) (*tensor.Tensor, error) {
	batchSize, seqLen := v.Shape[0], v.Shape[2]

	v0Conv, err := v0.Reshape([]int{batchSize * m.NumHeads, seqLen, m.HeadDim}).Transpose(1, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to reshape v0 for convolution: %w", err)
	}
	vConv, err := v.Reshape([]int{batchSize * m.NumHeads, seqLen, m.HeadDim}).Transpose(1, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to reshape v for convolution: %w", err)
	}

	gv, err := m.Conv.Apply(vConv)
	if err != nil {
		return nil, fmt.Errorf("failed to apply value convolution: %w", err)
	}

	diff, err := tensor.Sub(v0Conv, gv)
	if err != nil {
		return nil, fmt.Errorf("failed to compute value residual: %w", err)
	}

	adj, err := m.Conv.ApplyAdjoint(diff)
	if err != nil {
		return nil, fmt.Errorf("failed to apply adjoint convolution: %w", err)
	}

	correction, err := adj.Scale(m.Alpha).Transpose(1, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to reshape correction: %w", err)
	}

	return correction.Reshape([]int{batchSize, m.NumHeads, seqLen, m.HeadDim}), nil
}

// project merges the heads back to (batch, seq, dim) and applies the output
// projection and projection dropout.
func (m *ValueResidualAttention) project(ctx *tensor.Tensor, batchSize, seqLen int, training bool) (*tensor.Tensor, error) {
	merged, err := ctx.Transpose(1, 2) // (batch, seq, num_heads, head_dim)
	if err != nil {
		return nil, fmt.Errorf("failed to transpose attention output: %w", err)
	}
	mergedFlat := merged.Reshape([]int{batchSize, seqLen, m.Dim})

	out, err := tensor.Matmul(mergedFlat, m.WProj)
	if err != nil {
		return nil, fmt.Errorf("failed to apply output projection: %w", err)
	}
	out, err = tensor.Add(out, m.BProj)
	if err != nil {
		return nil, fmt.Errorf("failed to add projection bias: %w", err)
	}

	if m.ProjDropout > 0 {
		out = out.Dropout(m.ProjDropout, training)
	}

	return out, nil
}
