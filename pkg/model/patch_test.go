package model

import (
	"testing"

	"govit/pkg/tensor"
)

func TestPatchEmbed_OutputShape(t *testing.T) {
	p := NewPatchEmbed(32, 8, 3, 64)

	if p.NumPatches != 16 {
		t.Errorf("NumPatches = %d, expected 16", p.NumPatches)
	}

	images := tensor.NewTensor([]int{2, 3, 32, 32})
	out, err := p.Forward(images)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	want := []int{2, 16, 64}
	for i := range want {
		if out.Shape[i] != want[i] {
			t.Errorf("Output shape[%d] = %d, expected %d", i, out.Shape[i], want[i])
		}
	}
}

func TestPatchEmbed_InputValidation(t *testing.T) {
	p := NewPatchEmbed(32, 8, 3, 64)

	// Wrong rank
	if _, err := p.Forward(tensor.NewTensor([]int{3, 32, 32})); err == nil {
		t.Error("Expected error for 3D input")
	}

	// Wrong channel count
	if _, err := p.Forward(tensor.NewTensor([]int{1, 1, 32, 32})); err == nil {
		t.Error("Expected error for single-channel input")
	}

	// Wrong spatial size
	if _, err := p.Forward(tensor.NewTensor([]int{1, 3, 16, 16})); err == nil {
		t.Error("Expected error for undersized image")
	}
}

func TestPatchEmbed_GatherOrder(t *testing.T) {
	// One channel, 4x4 image, 2x2 patches: the gather is channel-major and
	// row-major within the patch. With an identity-like projection the first
	// patch embedding reproduces the patch values.
	p := NewPatchEmbed(4, 2, 1, 4)

	// Identity projection, zero bias
	for i := range p.Proj.Weight.Data {
		p.Proj.Weight.Data[i] = 0
	}
	for i := 0; i < 4; i++ {
		p.Proj.Weight.Set([]int{i, i}, 1)
	}

	images, err := tensor.FromSlice([]float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, []int{1, 1, 4, 4})
	if err != nil {
		t.Fatalf("Failed to create images: %v", err)
	}

	out, err := p.Forward(images)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	// Patch (0,0) covers rows 0-1, cols 0-1: values 1, 2, 5, 6
	want := [][]float32{
		{1, 2, 5, 6},     // top-left
		{3, 4, 7, 8},     // top-right
		{9, 10, 13, 14},  // bottom-left
		{11, 12, 15, 16}, // bottom-right
	}
	for patch, values := range want {
		for d, w := range values {
			got := out.Get([]int{0, patch, d})
			if got != w {
				t.Errorf("Patch %d dim %d = %f, expected %f", patch, d, got, w)
			}
		}
	}
}
