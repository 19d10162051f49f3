package attention

import (
	"math/rand"
	"testing"

	"govit/pkg/tensor"
)

func randomize(t *tensor.Tensor, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64()) * 0.02
	}
}

func newTestAttention(dim, numHeads int, first bool, seed int64) *ValueResidualAttention {
	attn := NewValueResidualAttention(Config{
		Dim:      dim,
		NumHeads: numHeads,
		QKVBias:  true,
		Alpha:    0.6,
		First:    first,
	})

	rng := rand.New(rand.NewSource(seed))
	randomize(attn.WQKV, rng)
	randomize(attn.BQKV, rng)
	randomize(attn.WProj, rng)
	randomize(attn.BProj, rng)
	randomize(attn.Conv.Weight, rng)
	randomize(attn.Conv.Bias, rng)

	return attn
}

func randomInput(shape []int, seed int64) *tensor.Tensor {
	rng := rand.New(rand.NewSource(seed))
	x := tensor.NewTensor(shape)
	randomize(x, rng)
	return x
}

// TestNewValueResidualAttention_InvalidHeads tests that an embedding
// dimension not divisible by the head count panics at construction.
func TestNewValueResidualAttention_InvalidHeads(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for dim not divisible by num_heads")
		}
	}()

	NewValueResidualAttention(Config{Dim: 64, NumHeads: 7})
}

// TestValueResidualAttention_QKVBias tests that the bias tensor exists only
// when requested.
func TestValueResidualAttention_QKVBias(t *testing.T) {
	withBias := NewValueResidualAttention(Config{Dim: 64, NumHeads: 8, QKVBias: true})
	if withBias.BQKV == nil {
		t.Error("Expected BQKV to be allocated with QKVBias=true")
	}
	if withBias.BQKV.Size() != 3*64 {
		t.Errorf("BQKV size = %d, expected %d", withBias.BQKV.Size(), 3*64)
	}

	withoutBias := NewValueResidualAttention(Config{Dim: 64, NumHeads: 8})
	if withoutBias.BQKV != nil {
		t.Error("Expected BQKV to be nil with QKVBias=false")
	}
}

// TestForwardFirst_Shapes tests the first layer's output and exported value
// tensor shapes.
func TestForwardFirst_Shapes(t *testing.T) {
	batch, seq, dim, heads := 1, 16, 64, 8
	attn := newTestAttention(dim, heads, true, 1)
	x := randomInput([]int{batch, seq, dim}, 2)

	out, v, err := attn.ForwardFirst(x, false)
	if err != nil {
		t.Fatalf("ForwardFirst failed: %v", err)
	}

	wantOut := []int{batch, seq, dim}
	for i := range wantOut {
		if out.Shape[i] != wantOut[i] {
			t.Errorf("Output shape[%d] = %d, expected %d", i, out.Shape[i], wantOut[i])
		}
	}

	wantV := []int{batch, heads, seq, dim / heads}
	if len(v.Shape) != 4 {
		t.Fatalf("Value tensor rank = %d, expected 4", len(v.Shape))
	}
	for i := range wantV {
		if v.Shape[i] != wantV[i] {
			t.Errorf("Value shape[%d] = %d, expected %d", i, v.Shape[i], wantV[i])
		}
	}
}

// TestForwardFirst_OnNonFirstLayer tests the role contract.
func TestForwardFirst_OnNonFirstLayer(t *testing.T) {
	attn := newTestAttention(64, 8, false, 1)
	x := randomInput([]int{1, 4, 64}, 2)

	if _, _, err := attn.ForwardFirst(x, false); err == nil {
		t.Error("Expected error calling ForwardFirst on a non-first layer")
	}
}

// TestForward_OnFirstLayer tests the role contract in the other direction.
func TestForward_OnFirstLayer(t *testing.T) {
	attn := newTestAttention(64, 8, true, 1)
	x := randomInput([]int{1, 4, 64}, 2)
	v0 := tensor.NewTensor([]int{1, 8, 4, 8})

	if _, err := attn.Forward(x, v0, false); err == nil {
		t.Error("Expected error calling Forward on the first layer")
	}
}

// TestForward_NilValueResidual tests that a missing v0 is an error, never a
// silent zero correction.
func TestForward_NilValueResidual(t *testing.T) {
	attn := newTestAttention(64, 8, false, 1)
	x := randomInput([]int{1, 4, 64}, 2)

	if _, err := attn.Forward(x, nil, false); err == nil {
		t.Error("Expected error for nil v0")
	}
}

// TestForward_ValueResidualShapeMismatch tests v0 shape validation.
func TestForward_ValueResidualShapeMismatch(t *testing.T) {
	attn := newTestAttention(64, 8, false, 1)
	x := randomInput([]int{1, 4, 64}, 2)
	v0 := tensor.NewTensor([]int{1, 8, 6, 8}) // wrong sequence length

	if _, err := attn.Forward(x, v0, false); err == nil {
		t.Error("Expected error for mismatched v0 shape")
	}
}

// TestForward_Shapes tests a non-first layer's output shape.
func TestForward_Shapes(t *testing.T) {
	batch, seq, dim, heads := 2, 10, 32, 4
	first := newTestAttention(dim, heads, true, 3)
	later := newTestAttention(dim, heads, false, 4)
	x := randomInput([]int{batch, seq, dim}, 5)

	_, v0, err := first.ForwardFirst(x, false)
	if err != nil {
		t.Fatalf("ForwardFirst failed: %v", err)
	}

	out, err := later.Forward(x, v0, false)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	want := []int{batch, seq, dim}
	for i := range want {
		if out.Shape[i] != want[i] {
			t.Errorf("Output shape[%d] = %d, expected %d", i, out.Shape[i], want[i])
		}
	}
}

// TestForward_CorrectionChangesOutput tests that the value-residual
// correction feeds into the output: zeroing the convolution weights and
// bias removes it and the result changes.
func TestForward_CorrectionChangesOutput(t *testing.T) {
	batch, seq, dim, heads := 1, 6, 32, 4
	first := newTestAttention(dim, heads, true, 7)
	later := newTestAttention(dim, heads, false, 8)
	x := randomInput([]int{batch, seq, dim}, 9)

	_, v0, err := first.ForwardFirst(x, false)
	if err != nil {
		t.Fatalf("ForwardFirst failed: %v", err)
	}

	withCorrection, err := later.Forward(x, v0, false)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	for i := range later.Conv.Weight.Data {
		later.Conv.Weight.Data[i] = 0
	}
	for i := range later.Conv.Bias.Data {
		later.Conv.Bias.Data[i] = 0
	}

	withoutCorrection, err := later.Forward(x, v0, false)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	if withCorrection.Equals(withoutCorrection, 1e-6) {
		t.Error("Zeroing the value-residual operator should change the output")
	}
}

// TestForward_AlphaZeroStillValidates tests that alpha=0 removes the
// correction numerically but v0 remains mandatory.
func TestForward_AlphaZeroStillValidates(t *testing.T) {
	attn := newTestAttention(32, 4, false, 11)
	attn.Alpha = 0
	x := randomInput([]int{1, 6, 32}, 12)

	if _, err := attn.Forward(x, nil, false); err == nil {
		t.Error("Expected error for nil v0 even with alpha=0")
	}
}

// identityNorm and identityMLP are minimal stand-ins for block tests.
type identityNorm struct{}

func (identityNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) { return x.Clone(), nil }

type identityMLP struct{}

func (identityMLP) Forward(x *tensor.Tensor, training bool) (*tensor.Tensor, error) {
	return x.Clone(), nil
}

// TestTransformerBlock_FirstRoundTrip tests the first block's output shapes
// and value export.
func TestTransformerBlock_FirstRoundTrip(t *testing.T) {
	batch, seq, dim, heads := 2, 8, 32, 4
	attn := newTestAttention(dim, heads, true, 21)
	block := NewTransformerBlock(attn, identityMLP{}, identityNorm{}, identityNorm{}, 0)

	if !block.First {
		t.Fatal("Block built from a first attention layer must be first")
	}

	x := randomInput([]int{batch, seq, dim}, 22)
	out, v0, err := block.ForwardFirst(x, false)
	if err != nil {
		t.Fatalf("ForwardFirst failed: %v", err)
	}

	wantOut := []int{batch, seq, dim}
	for i := range wantOut {
		if out.Shape[i] != wantOut[i] {
			t.Errorf("Output shape[%d] = %d, expected %d", i, out.Shape[i], wantOut[i])
		}
	}
	wantV := []int{batch, heads, seq, dim / heads}
	for i := range wantV {
		if v0.Shape[i] != wantV[i] {
			t.Errorf("v0 shape[%d] = %d, expected %d", i, v0.Shape[i], wantV[i])
		}
	}
}

// TestTransformerBlock_ForwardShapes tests a non-first block end to end.
func TestTransformerBlock_ForwardShapes(t *testing.T) {
	batch, seq, dim, heads := 1, 8, 32, 4
	firstAttn := newTestAttention(dim, heads, true, 23)
	firstBlock := NewTransformerBlock(firstAttn, identityMLP{}, identityNorm{}, identityNorm{}, 0)
	laterAttn := newTestAttention(dim, heads, false, 24)
	laterBlock := NewTransformerBlock(laterAttn, identityMLP{}, identityNorm{}, identityNorm{}, 0)

	x := randomInput([]int{batch, seq, dim}, 25)
	x, v0, err := firstBlock.ForwardFirst(x, false)
	if err != nil {
		t.Fatalf("ForwardFirst failed: %v", err)
	}

	out, err := laterBlock.Forward(x, v0, false)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}

	want := []int{batch, seq, dim}
	for i := range want {
		if out.Shape[i] != want[i] {
			t.Errorf("Output shape[%d] = %d, expected %d", i, out.Shape[i], want[i])
		}
	}
}

// TestTransformerBlock_RoleErrors tests that the first/other split is
// enforced at the block level too.
func TestTransformerBlock_RoleErrors(t *testing.T) {
	dim, heads := 32, 4
	firstBlock := NewTransformerBlock(newTestAttention(dim, heads, true, 31), identityMLP{}, identityNorm{}, identityNorm{}, 0)
	laterBlock := NewTransformerBlock(newTestAttention(dim, heads, false, 32), identityMLP{}, identityNorm{}, identityNorm{}, 0)

	x := randomInput([]int{1, 4, dim}, 33)
	v0 := tensor.NewTensor([]int{1, heads, 4, dim / heads})

	if _, err := firstBlock.Forward(x, v0, false); err == nil {
		t.Error("Expected error calling Forward on the first block")
	}
	if _, _, err := laterBlock.ForwardFirst(x, false); err == nil {
		t.Error("Expected error calling ForwardFirst on a non-first block")
	}
}
