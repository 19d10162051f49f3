package model

import (
	"fmt"

	"govit/pkg/tensor"
)

// Mlp implements the transformer MLP block used in each ViT layer.
//
// Architecture:
//  1. Linear projection: (batch, seq, emb_dim) -> (batch, seq, hidden_dim)
//  2. GELU activation
//  3. Dropout
//  4. Linear projection: -> (batch, seq, emb_dim)
//  5. Dropout
type Mlp struct {
	FC1     *Linear
	FC2     *Linear
	Dropout float32
}

// NewMlp creates a new MLP block.
func NewMlp(embDim, hiddenDim int, dropout float32) *Mlp {
	return &Mlp{
		FC1:     NewLinear(embDim, hiddenDim, true),
		FC2:     NewLinear(hiddenDim, embDim, true),
		Dropout: dropout,
	}
}

// Forward computes the MLP transformation.
//
// Input shape: (batch, seq, emb_dim)
// Output shape: (batch, seq, emb_dim)
func (m *Mlp) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("expected at least 2D input, got %dD", len(x.Shape))
	}

	hidden, err := m.FC1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to compute FC1 projection: %w", err)
	}

	activated := hidden.GELU()

	if m.Dropout > 0 {
		activated = activated.Dropout(m.Dropout, training)
	}

	output, err := m.FC2.Forward(activated)
	if err != nil {
		return nil, fmt.Errorf("failed to compute FC2 projection: %w", err)
	}

	if m.Dropout > 0 {
		output = output.Dropout(m.Dropout, training)
	}

	return output, nil
}
