// Package model provides the vision transformer model components.
//
// This package implements a modified Vision Transformer (ViT) for image
// classification with two non-standard mechanisms on top of the canonical
// architecture:
//   - Value-residual attention: every layer after the first adds a
//     correction term that couples its value projection back to the first
//     layer's values through a learned 1x1 convolution and its adjoint.
//   - Class-token feedback: after every layer inside the configured window,
//     a provisional class prediction is computed from the class token and
//     projected back into embedding space, overwriting the class-token slot
//     before the next layer runs.
package model

import "fmt"

// ViTConfig holds the model hyperparameters for the vision transformer.
// These parameters define the architecture size and behavior.
type ViTConfig struct {
	// ImgSize is the input image height/width in pixels (224 for ViT-Base/16)
	ImgSize int

	// PatchSize is the side length of each square patch (16 for ViT-Base/16)
	PatchSize int

	// InChans is the number of input image channels (3 for RGB)
	InChans int

	// NumClasses is the size of the classification output (1000 for ImageNet)
	NumClasses int

	// EmbedDim is the token embedding dimension (768 for ViT-Base)
	EmbedDim int

	// Depth is the number of transformer blocks (12 for ViT-Base)
	Depth int

	// NumHeads is the number of attention heads (12 for ViT-Base)
	NumHeads int

	// MLPRatio is the ratio of the MLP hidden dimension to EmbedDim (4 for ViT)
	MLPRatio float32

	// QKVBias enables bias on the fused QKV projection (true for ViT)
	QKVBias bool

	// RepresentationSize enables a pre-logits layer (Linear+Tanh) of this
	// size before the classifier head when > 0
	RepresentationSize int

	// Dropout is the rate applied to position embeddings, MLP and the
	// attention output projection
	Dropout float32

	// AttnDropout is the rate applied to attention weights
	AttnDropout float32

	// DropPathRate is the maximum stochastic depth rate; per-block rates
	// increase linearly from 0 to this value across the stack
	DropPathRate float32

	// Alpha is the mixing coefficient of the value-residual correction
	Alpha float32

	// NumFeedbackLayers is the index of the last block after which the
	// class-token feedback rewrite is applied. The rewrite runs after
	// blocks 1..NumFeedbackLayers inclusive; 0 disables it entirely.
	NumFeedbackLayers int
}

// DefaultViTConfig returns a configuration for ViT-Base/16 on ImageNet-1k
// with the reference feedback window (10 layers at depth 12).
func DefaultViTConfig() ViTConfig {
	return ViTConfig{
		ImgSize:           224,
		PatchSize:         16,
		InChans:           3,
		NumClasses:        1000,
		EmbedDim:          768,
		Depth:             12,
		NumHeads:          12,
		MLPRatio:          4.0,
		QKVBias:           true,
		Dropout:           0.0,
		AttnDropout:       0.0,
		DropPathRate:      0.0,
		Alpha:             0.6,
		NumFeedbackLayers: 10,
	}
}

// Validate checks if the configuration is valid and consistent.
// Returns an error if any parameters are incompatible.
func (c ViTConfig) Validate() error {
	if c.NumHeads <= 0 {
		return fmt.Errorf("num_heads must be positive, got %d", c.NumHeads)
	}
	if c.EmbedDim%c.NumHeads != 0 {
		return fmt.Errorf("embed_dim (%d) must be divisible by num_heads (%d)",
			c.EmbedDim, c.NumHeads)
	}
	if c.PatchSize <= 0 {
		return fmt.Errorf("patch_size must be positive, got %d", c.PatchSize)
	}
	if c.ImgSize%c.PatchSize != 0 {
		return fmt.Errorf("img_size (%d) must be divisible by patch_size (%d)",
			c.ImgSize, c.PatchSize)
	}
	if c.InChans <= 0 {
		return fmt.Errorf("in_chans must be positive, got %d", c.InChans)
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be positive, got %d", c.NumClasses)
	}
	if c.Depth <= 0 {
		return fmt.Errorf("depth must be positive, got %d", c.Depth)
	}
	if c.MLPRatio <= 0 {
		return fmt.Errorf("mlp_ratio must be positive, got %v", c.MLPRatio)
	}
	if c.NumFeedbackLayers < 0 || c.NumFeedbackLayers > c.Depth-1 {
		return fmt.Errorf("num_feedback_layers (%d) must be in [0, depth-1] (depth=%d)",
			c.NumFeedbackLayers, c.Depth)
	}
	return nil
}

// HeadDimension returns the dimension per attention head.
func (c ViTConfig) HeadDimension() int {
	return c.EmbedDim / c.NumHeads
}

// NumPatches returns the number of patches the image is split into.
func (c ViTConfig) NumPatches() int {
	side := c.ImgSize / c.PatchSize
	return side * side
}

// HiddenDim returns the MLP hidden dimension.
func (c ViTConfig) HiddenDim() int {
	return int(float32(c.EmbedDim) * c.MLPRatio)
}

// NumFeatures returns the dimension fed to the classifier head: the
// representation size when a pre-logits layer is configured, EmbedDim
// otherwise.
func (c ViTConfig) NumFeatures() int {
	if c.RepresentationSize > 0 {
		return c.RepresentationSize
	}
	return c.EmbedDim
}
