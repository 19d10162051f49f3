// Package attention implements the value-residual attention mechanism and
// transformer block of the modified vision transformer.
package attention

import (
	"fmt"

	"govit/pkg/tensor"
)

// FeedForward is an interface for MLP layers
type FeedForward interface {
	Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error)
}

// LayerNorm is an interface for layer normalization
type LayerNorm interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
}

// TransformerBlock implements a single pre-norm transformer block.
//
// Architecture (per block):
//  1. x = x + DropPath(Attn(Norm1(x), v0))
//  2. x = x + DropPath(MLP(Norm2(x)))
//
// The first block of the stack surfaces the value tensor v0 produced by its
// attention call (via ForwardFirst); every later block consumes v0 through
// Forward. Blocks never store v0; the orchestrator owns it and passes it in
// on every call.
type TransformerBlock struct {
	Attn  *ValueResidualAttention
	MLP   FeedForward
	Norm1 LayerNorm // Pre-attention
	Norm2 LayerNorm // Pre-MLP

	// DropPath is the stochastic depth rate of both residual branches
	DropPath float32

	// First mirrors the attention layer's flag; fixed at construction
	First bool
}

// NewTransformerBlock creates a new transformer block.
func NewTransformerBlock(attn *ValueResidualAttention, mlp FeedForward, norm1, norm2 LayerNorm, dropPath float32) *TransformerBlock {
	return &TransformerBlock{
		Attn:     attn,
		MLP:      mlp,
		Norm1:    norm1,
		Norm2:    norm2,
		DropPath: dropPath,
		First:    attn.First,
	}
}

// ForwardFirst computes the first block of the stack.
//
// Input shape: (batch, seq, emb_dim)
// Returns the block output and the value tensor v0 of shape
// (batch, num_heads, seq, head_dim) for the orchestrator to hold.
func (b *TransformerBlock) ForwardFirst(x *tensor.Tensor, training bool) (*tensor.Tensor, *tensor.Tensor, error) {
	if !b.First {
		return nil, nil, fmt.Errorf("ForwardFirst called on a non-first block")
	}

	normed, err := b.Norm1.Forward(x)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply Norm1: %w", err)
	}

	attnOut, v0, err := b.Attn.ForwardFirst(normed, training)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compute attention: %w", err)
	}

	x, err = b.residual(x, attnOut, training)
	if err != nil {
		return nil, nil, err
	}

	x, err = b.mlpResidual(x, training)
	if err != nil {
		return nil, nil, err
	}

	return x, v0, nil
}

// Forward computes a non-first block, applying the value-residual correction
// derived from v0.
//
// Input shapes:
//   - x: (batch, seq, emb_dim)
//   - v0: (batch, num_heads, seq, head_dim), read-only
//
// Output shape: (batch, seq, emb_dim)
func (b *TransformerBlock) Forward(x, v0 *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if b.First {
		return nil, fmt.Errorf("Forward called on the first block; use ForwardFirst")
	}

	normed, err := b.Norm1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to apply Norm1: %w", err)
	}

	attnOut, err := b.Attn.Forward(normed, v0, training)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention: %w", err)
	}

	x, err = b.residual(x, attnOut, training)
	if err != nil {
		return nil, err
	}

	return b.mlpResidual(x, training)
}

// residual adds a branch output to x with stochastic depth.
func (b *TransformerBlock) residual(x, branch *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if b.DropPath > 0 {
		branch = branch.DropPath(b.DropPath, training)
	}

	out, err := tensor.Add(x, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to add residual: %w", err)
	}
	return out, nil
}

// mlpResidual applies the second half of the block: x + DropPath(MLP(Norm2(x))).
func (b *TransformerBlock) mlpResidual(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	normed, err := b.Norm2.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to apply Norm2: %w", err)
	}

	mlpOut, err := b.MLP.Forward(normed, training)
	if err != nil {
		return nil, fmt.Errorf("failed to compute MLP: %w", err)
	}

	return b.residual(x, mlpOut, training)
}
