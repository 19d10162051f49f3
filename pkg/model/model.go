package model

import (
	"fmt"
	"math"
	"math/rand"

	"govit/pkg/model/attention"
	"govit/pkg/tensor"
)

// VisionTransformer implements the modified ViT image classifier.
//
// Architecture:
//  1. Patch embedding: (batch, chans, H, W) -> (batch, num_patches, embed_dim)
//  2. Class token prepended, learned position embeddings added
//  3. Block 0 produces the value tensor v0 alongside its output
//  4. Blocks 1..depth-1 consume v0 through the value-residual correction;
//     after each block inside the feedback window the class-token slot is
//     overwritten with the re-projected provisional class prediction
//  5. Final layer norm, optional pre-logits layer, classifier head
//
// v0 lives for exactly one forward pass: it is captured from block 0, held
// by the orchestrator, and passed read-only to every later block. The
// class-token rewrite is the only in-place mutation of the running sequence
// and is performed here, between block invocations, never by the blocks.
type VisionTransformer struct {
	Config ViTConfig

	Patch    *PatchEmbed
	ClsToken *tensor.Tensor // (1, 1, embed_dim)
	PosEmb   *tensor.Tensor // (1, num_patches+1, embed_dim)

	Blocks    []*attention.TransformerBlock
	FinalNorm *LayerNorm

	// PreLogits is the optional representation layer (Linear followed by
	// Tanh); nil when RepresentationSize is 0
	PreLogits *Linear

	// Head maps features to class logits; ReverseHead maps class logits
	// back into embedding space for the feedback rewrite. The two share no
	// weights.
	Head        *Linear
	ReverseHead *Linear

	Training bool // If false, dropout and drop path are disabled
}

// NewVisionTransformer creates a new model.
//
// Parameters:
//   - config: ViTConfig containing all architecture parameters
//
// Returns:
//   - Initialized VisionTransformer with all weights allocated
func NewVisionTransformer(config ViTConfig) *VisionTransformer {
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}

	numPatches := config.NumPatches()

	m := &VisionTransformer{
		Config:    config,
		Patch:     NewPatchEmbed(config.ImgSize, config.PatchSize, config.InChans, config.EmbedDim),
		ClsToken:  tensor.NewTensor([]int{1, 1, config.EmbedDim}),
		PosEmb:    tensor.NewTensor([]int{1, numPatches + 1, config.EmbedDim}),
		Blocks:    make([]*attention.TransformerBlock, config.Depth),
		FinalNorm: NewLayerNorm(config.EmbedDim, 1e-6),
		Training:  true,
	}

	if config.RepresentationSize > 0 {
		m.PreLogits = NewLinear(config.EmbedDim, config.RepresentationSize, true)
	}
	m.Head = NewLinear(config.NumFeatures(), config.NumClasses, true)
	m.ReverseHead = NewLinear(config.NumClasses, config.EmbedDim, true)

	// Stochastic depth decay rule: linear ramp from 0 to DropPathRate
	for i := 0; i < config.Depth; i++ {
		dropPath := float32(0)
		if config.Depth > 1 {
			dropPath = config.DropPathRate * float32(i) / float32(config.Depth-1)
		}

		attnConfig := attention.Config{
			Dim:         config.EmbedDim,
			NumHeads:    config.NumHeads,
			QKVBias:     config.QKVBias,
			AttnDropout: config.AttnDropout,
			ProjDropout: config.Dropout,
			Alpha:       config.Alpha,
			First:       i == 0,
		}
		attn := attention.NewValueResidualAttention(attnConfig)

		mlp := NewMlp(config.EmbedDim, config.HiddenDim(), config.Dropout)

		norm1 := NewLayerNorm(config.EmbedDim, 1e-6)
		norm2 := NewLayerNorm(config.EmbedDim, 1e-6)

		m.Blocks[i] = attention.NewTransformerBlock(attn, mlp, norm1, norm2, dropPath)
	}

	initializeWeights(m)

	return m
}

// SetTraining sets the training mode for the model.
// When training=false, dropout and drop path are disabled.
func (m *VisionTransformer) SetTraining(training bool) {
	m.Training = training
}

// Forward computes the forward pass through the entire model.
//
// Input shape: (batch, in_chans, img_size, img_size)
// Output shape: (batch, num_classes) - logits
func (m *VisionTransformer) Forward(images *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := m.embed(images)
	if err != nil {
		return nil, err
	}

	// Block 0 produces v0; the orchestrator owns it for the rest of the pass
	x, v0, err := m.Blocks[0].ForwardFirst(x, m.Training)
	if err != nil {
		return nil, fmt.Errorf("failed in transformer block 0: %w", err)
	}

	for i := 1; i < m.Config.Depth; i++ {
		x, err = m.Blocks[i].Forward(x, v0, m.Training)
		if err != nil {
			return nil, fmt.Errorf("failed in transformer block %d: %w", i, err)
		}

		// Feedback rewrite: pull the class token toward a valid point in
		// class-logit space before the next block consumes the sequence.
		// Applies after blocks 1..NumFeedbackLayers only; patch tokens are
		// never touched.
		if i <= m.Config.NumFeedbackLayers {
			midLogits, err := m.classLogits(x)
			if err != nil {
				return nil, fmt.Errorf("failed to compute feedback logits after block %d: %w", i, err)
			}

			emb, err := m.ReverseHead.Forward(midLogits)
			if err != nil {
				return nil, fmt.Errorf("failed to re-project feedback logits after block %d: %w", i, err)
			}

			if err := setClassToken(x, emb); err != nil {
				return nil, fmt.Errorf("failed to rewrite class token after block %d: %w", i, err)
			}
		}
	}

	return m.classLogits(x)
}

// embed turns a batch of images into the token sequence consumed by block 0:
// patch embeddings with the class token prepended and position embeddings
// added.
//
// Output shape: (batch, num_patches+1, embed_dim)
func (m *VisionTransformer) embed(images *tensor.Tensor) (*tensor.Tensor, error) {
	if len(images.Shape) != 4 {
		return nil, fmt.Errorf("expected 4D input (batch, chans, height, width), got %dD", len(images.Shape))
	}

	patches, err := m.Patch.Forward(images)
	if err != nil {
		return nil, fmt.Errorf("failed to embed patches: %w", err)
	}

	batchSize := patches.Shape[0]
	numPatches := patches.Shape[1]
	embDim := patches.Shape[2]
	seqLen := numPatches + 1

	// Prepend the class token to every sequence
	x := tensor.NewTensor([]int{batchSize, seqLen, embDim})
	for b := 0; b < batchSize; b++ {
		dst := b * seqLen * embDim
		copy(x.Data[dst:dst+embDim], m.ClsToken.Data)
		src := b * numPatches * embDim
		copy(x.Data[dst+embDim:dst+seqLen*embDim], patches.Data[src:src+numPatches*embDim])
	}

	// Add position embeddings (broadcast over the batch)
	x, err = tensor.Add(x, m.PosEmb)
	if err != nil {
		return nil, fmt.Errorf("failed to add position embeddings: %w", err)
	}

	if m.Config.Dropout > 0 {
		x = x.Dropout(m.Config.Dropout, m.Training)
	}

	return x, nil
}

// classLogits computes class logits from the current class-token
// representation: FinalNorm -> class-token slot -> pre-logits -> head.
// It is used both for the per-layer feedback predictions and the final
// output.
//
// Input shape: (batch, seq, embed_dim)
// Output shape: (batch, num_classes)
func (m *VisionTransformer) classLogits(x *tensor.Tensor) (*tensor.Tensor, error) {
	normed, err := m.FinalNorm.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("failed to apply final layer norm: %w", err)
	}

	cls, err := classToken(normed)
	if err != nil {
		return nil, err
	}

	if m.PreLogits != nil {
		cls, err = m.PreLogits.Forward(cls)
		if err != nil {
			return nil, fmt.Errorf("failed to apply pre-logits layer: %w", err)
		}
		cls = cls.Tanh()
	}

	logits, err := m.Head.Forward(cls)
	if err != nil {
		return nil, fmt.Errorf("failed to apply classifier head: %w", err)
	}

	return logits, nil
}

// classToken extracts the class-token representation x[:, 0, :].
// The result owns its own data.
//
// Input shape: (batch, seq, embed_dim)
// Output shape: (batch, embed_dim)
func classToken(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("expected 3D sequence (batch, seq, embed_dim), got %dD with shape %v",
			len(x.Shape), x.Shape)
	}

	batchSize, embDim := x.Shape[0], x.Shape[2]

	cls, err := x.SliceN([]int{0, 0, 0}, []int{batchSize, 1, embDim})
	if err != nil {
		return nil, fmt.Errorf("failed to slice class token: %w", err)
	}

	return cls.View([]int{batchSize, embDim})
}

// setClassToken overwrites the class-token slot x[:, 0, :] with emb.
// Only index 0 of the sequence dimension is written; patch tokens are left
// untouched.
//
// Shapes: x (batch, seq, embed_dim), emb (batch, embed_dim)
func setClassToken(x, emb *tensor.Tensor) error {
	if len(x.Shape) != 3 || len(emb.Shape) != 2 {
		return fmt.Errorf("expected shapes (batch, seq, embed_dim) and (batch, embed_dim), got %v and %v",
			x.Shape, emb.Shape)
	}

	batchSize, seqLen, embDim := x.Shape[0], x.Shape[1], x.Shape[2]
	if emb.Shape[0] != batchSize || emb.Shape[1] != embDim {
		return fmt.Errorf("embedding shape %v doesn't match sequence shape %v", emb.Shape, x.Shape)
	}

	for b := 0; b < batchSize; b++ {
		dst := b * seqLen * embDim
		src := b * embDim
		copy(x.Data[dst:dst+embDim], emb.Data[src:src+embDim])
	}

	return nil
}

// initializeWeights initializes model weights.
//
// Following the reference ViT initialization:
//   - Class token and position embeddings: small normal distribution ~ N(0, 0.02)
//   - Linear layer weights: Xavier uniform, biases zero
//   - Value-residual convolutions: small normal distribution
//   - LayerNorm scale: ones, shift: zeros (already done in NewLayerNorm)
func initializeWeights(m *VisionTransformer) {
	normalInit(m.ClsToken, 0.02)
	normalInit(m.PosEmb, 0.02)

	xavierUniformInit(m.Patch.Proj.Weight)
	if m.PreLogits != nil {
		xavierUniformInit(m.PreLogits.Weight)
	}
	xavierUniformInit(m.Head.Weight)
	xavierUniformInit(m.ReverseHead.Weight)

	for _, block := range m.Blocks {
		attn := block.Attn
		xavierUniformInit(attn.WQKV)
		xavierUniformInit(attn.WProj)
		normalInit(attn.Conv.Weight, 0.02)

		mlp := block.MLP.(*Mlp)
		xavierUniformInit(mlp.FC1.Weight)
		xavierUniformInit(mlp.FC2.Weight)
	}
}

// normalInit initializes a tensor with values from a normal distribution N(0, std^2).
func normalInit(t *tensor.Tensor, std float32) {
	for i := range t.Data {
		t.Data[i] = float32(rand.NormFloat64()) * std
	}
}

// xavierUniformInit initializes a tensor with Xavier/Glorot uniform initialization.
// The variance is scaled by 2 / (fan_in + fan_out).
func xavierUniformInit(t *tensor.Tensor) {
	if len(t.Shape) < 2 {
		for i := range t.Data {
			t.Data[i] = float32(rand.Float64()*2 - 1)
		}
		return
	}

	fanIn := t.Shape[len(t.Shape)-2]
	fanOut := t.Shape[len(t.Shape)-1]

	// Xavier uniform: U[-limit, limit] where limit = sqrt(6 / (fan_in + fan_out))
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))

	for i := range t.Data {
		t.Data[i] = float32(rand.Float64()*2*limit - limit)
	}
}
