package attention

import (
	"math"
	"testing"

	"govit/pkg/tensor"
)

// TestAdjointConv1D_ApplyShape tests the valid-convolution output length.
func TestAdjointConv1D_ApplyShape(t *testing.T) {
	tests := []struct {
		name       string
		channels   int
		kernelSize int
		length     int
		outLen     int
	}{
		{"kernel 1", 4, 1, 5, 5},
		{"kernel 3", 4, 3, 5, 3},
		{"kernel equals length", 2, 4, 4, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := NewAdjointConv1D(tt.channels, tt.kernelSize)
			input := tensor.NewTensor([]int{2, tt.channels, tt.length})

			out, err := conv.Apply(input)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}

			expected := []int{2, tt.channels, tt.outLen}
			for i := range expected {
				if out.Shape[i] != expected[i] {
					t.Errorf("Output shape[%d] = %d, expected %d", i, out.Shape[i], expected[i])
				}
			}
		})
	}
}

// TestAdjointConv1D_ShapeErrors tests call-time shape validation.
func TestAdjointConv1D_ShapeErrors(t *testing.T) {
	conv := NewAdjointConv1D(4, 3)

	// Wrong rank
	if _, err := conv.Apply(tensor.NewTensor([]int{4, 5})); err == nil {
		t.Error("Expected error for 2D input")
	}

	// Wrong channel count
	if _, err := conv.Apply(tensor.NewTensor([]int{1, 3, 5})); err == nil {
		t.Error("Expected error for mismatched channels")
	}

	// Input shorter than kernel
	if _, err := conv.Apply(tensor.NewTensor([]int{1, 4, 2})); err == nil {
		t.Error("Expected error for input shorter than kernel")
	}
}

// TestAdjointConv1D_KnownValues tests the convolution arithmetic directly.
func TestAdjointConv1D_KnownValues(t *testing.T) {
	conv := NewAdjointConv1D(2, 1)
	// Weight acts as a 2x2 channel-mixing matrix: [[1,2],[3,4]]
	conv.Weight.Data = []float32{1, 2, 3, 4}
	conv.Bias.Data = []float32{10, 20}

	// One sample, channels [1,2,3] and [4,5,6]
	input, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, []int{1, 2, 3})
	if err != nil {
		t.Fatalf("Failed to create input: %v", err)
	}

	out, err := conv.Apply(input)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// out[0][l] = 1*in[0][l] + 2*in[1][l] + 10
	// out[1][l] = 3*in[0][l] + 4*in[1][l] + 20
	expected := []float32{19, 22, 25, 39, 46, 53}
	for i, want := range expected {
		if math.Abs(float64(out.Data[i]-want)) > 1e-5 {
			t.Errorf("Data[%d] = %f, expected %f", i, out.Data[i], want)
		}
	}
}

// TestAdjointConv1D_AdjointFlipsKernel verifies that ApplyAdjoint runs the
// same convolution with the kernel axis reversed and the same bias.
func TestAdjointConv1D_AdjointFlipsKernel(t *testing.T) {
	channels, kernelSize := 2, 3
	conv := NewAdjointConv1D(channels, kernelSize)
	for i := range conv.Weight.Data {
		conv.Weight.Data[i] = float32(i + 1) // asymmetric along the kernel axis
	}
	conv.Bias.Data = []float32{0.5, -0.5}

	// A second operator holding the explicitly flipped kernel
	flipped := NewAdjointConv1D(channels, kernelSize)
	copy(flipped.Bias.Data, conv.Bias.Data)
	for o := 0; o < channels; o++ {
		for i := 0; i < channels; i++ {
			for k := 0; k < kernelSize; k++ {
				src := (o*channels+i)*kernelSize + k
				dst := (o*channels+i)*kernelSize + kernelSize - 1 - k
				flipped.Weight.Data[dst] = conv.Weight.Data[src]
			}
		}
	}

	input, err := tensor.FromSlice([]float32{1, -2, 3, 0.5, 4, 0, -1, 2, 1, -0.5}, []int{1, channels, 5})
	if err != nil {
		t.Fatalf("Failed to create input: %v", err)
	}

	adjoint, err := conv.ApplyAdjoint(input)
	if err != nil {
		t.Fatalf("ApplyAdjoint failed: %v", err)
	}

	reference, err := flipped.Apply(input)
	if err != nil {
		t.Fatalf("Apply on flipped operator failed: %v", err)
	}

	if !adjoint.Equals(reference, 1e-6) {
		t.Error("ApplyAdjoint must equal Apply with the kernel axis reversed")
	}

	// With an asymmetric kernel the adjoint differs from the plain application
	plain, err := conv.Apply(input)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if adjoint.Equals(plain, 1e-6) {
		t.Error("Adjoint of an asymmetric kernel should differ from the plain convolution")
	}
}

// TestAdjointConv1D_Kernel1AdjointCoincides tests that with kernel size 1
// the flip is a no-op and both applications agree (the configuration the
// model uses).
func TestAdjointConv1D_Kernel1AdjointCoincides(t *testing.T) {
	conv := NewAdjointConv1D(3, 1)
	for i := range conv.Weight.Data {
		conv.Weight.Data[i] = float32(i)*0.1 - 0.3
	}
	conv.Bias.Data = []float32{0.1, 0.2, 0.3}

	input, err := tensor.FromSlice([]float32{
		1, 2, 3, 4,
		-1, 0, 1, 2,
		0.5, 0.5, 0.5, 0.5,
	}, []int{1, 3, 4})
	if err != nil {
		t.Fatalf("Failed to create input: %v", err)
	}

	apply, err := conv.Apply(input)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	adjoint, err := conv.ApplyAdjoint(input)
	if err != nil {
		t.Fatalf("ApplyAdjoint failed: %v", err)
	}

	if !apply.Equals(adjoint, 1e-6) {
		t.Error("With kernel size 1, ApplyAdjoint must coincide with Apply")
	}
}

// TestAdjointConv1D_NotAnInverse documents that adjoint(apply(x)) != x:
// the adjoint is an approximate transpose, not an inverse.
func TestAdjointConv1D_NotAnInverse(t *testing.T) {
	conv := NewAdjointConv1D(2, 1)
	conv.Weight.Data = []float32{2, 0, 0, 2} // scale channels by 2
	// Bias left at zero

	input, err := tensor.FromSlice([]float32{1, 2, 3, 4}, []int{1, 2, 2})
	if err != nil {
		t.Fatalf("Failed to create input: %v", err)
	}

	applied, err := conv.Apply(input)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	roundTrip, err := conv.ApplyAdjoint(applied)
	if err != nil {
		t.Fatalf("ApplyAdjoint failed: %v", err)
	}

	// 2x scaling twice gives 4x, not the identity
	if roundTrip.Equals(input, 1e-6) {
		t.Error("adjoint(apply(x)) should not reproduce x in general")
	}
}
