package model

import (
	"fmt"
	"math"
	"sort"

	"govit/pkg/tensor"
)

// Prediction is a single class prediction with its softmax probability.
type Prediction struct {
	Class int
	Prob  float32
}

// Classify runs the model on a batch of images and returns the predicted
// class index per image.
//
// The model is switched to inference mode for the duration of the call.
//
// Input shape: (batch, in_chans, img_size, img_size)
// Output shape: (batch, 1) - class indices
func Classify(m *VisionTransformer, images *tensor.Tensor) (*tensor.Tensor, error) {
	logits, err := inferLogits(m, images)
	if err != nil {
		return nil, err
	}

	return argmax(logits)
}

// TopK runs the model on a batch of images and returns, per image, the k
// most likely classes with their softmax probabilities in descending order.
func TopK(m *VisionTransformer, images *tensor.Tensor, k int) ([][]Prediction, error) {
	if k <= 0 || k > m.Config.NumClasses {
		return nil, fmt.Errorf("invalid k=%d for %d classes", k, m.Config.NumClasses)
	}

	logits, err := inferLogits(m, images)
	if err != nil {
		return nil, err
	}

	probs := tensor.SoftmaxLast(logits)

	batchSize, numClasses := probs.Shape[0], probs.Shape[1]
	result := make([][]Prediction, batchSize)

	for b := 0; b < batchSize; b++ {
		preds := make([]Prediction, numClasses)
		for c := 0; c < numClasses; c++ {
			preds[c] = Prediction{Class: c, Prob: probs.Get([]int{b, c})}
		}
		sort.Slice(preds, func(i, j int) bool { return preds[i].Prob > preds[j].Prob })
		result[b] = preds[:k]
	}

	return result, nil
}

// inferLogits runs a forward pass in inference mode, restoring the previous
// training flag afterwards.
func inferLogits(m *VisionTransformer, images *tensor.Tensor) (*tensor.Tensor, error) {
	wasTraining := m.Training
	m.SetTraining(false)
	defer m.SetTraining(wasTraining)

	logits, err := m.Forward(images)
	if err != nil {
		return nil, fmt.Errorf("model forward pass failed: %w", err)
	}

	return logits, nil
}

// argmax returns the index of the maximum value along the last dimension.
//
// Input shape: (batch, num_classes)
// Output shape: (batch, 1)
func argmax(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("expected 2D input (batch, num_classes), got %dD", len(logits.Shape))
	}

	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]

	result := tensor.NewTensor([]int{batchSize, 1})

	for b := 0; b < batchSize; b++ {
		maxIdx := 0
		maxVal := float32(math.Inf(-1))

		for c := 0; c < numClasses; c++ {
			val := logits.Get([]int{b, c})
			if val > maxVal {
				maxVal = val
				maxIdx = c
			}
		}

		result.Set([]int{b, 0}, float32(maxIdx))
	}

	return result, nil
}
