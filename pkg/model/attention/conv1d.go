package attention

import (
	"fmt"

	"govit/pkg/tensor"
)

// AdjointConv1D is a learned 1D convolution together with its adjoint
// application. The attention layers use it to move the value-residual
// signal between the value space of different layers: Apply maps the
// current layer's values through the operator, and ApplyAdjoint applies
// the kernel-reversed counterpart as an approximate inverse.
//
// The model always constructs it with kernel size 1 (a per-channel scalar
// map along the head dimension), but the operator supports general kernel
// sizes so the kernel-flip contract is observable.
type AdjointConv1D struct {
	Channels   int
	KernelSize int

	Weight *tensor.Tensor // (out_channels, in_channels, kernel_size), both channel counts equal
	Bias   *tensor.Tensor // (out_channels,)
}

// NewAdjointConv1D creates the operator with zero-initialized parameters.
// Weights receive their actual initialization from the model init pass.
func NewAdjointConv1D(channels, kernelSize int) *AdjointConv1D {
	if channels <= 0 || kernelSize <= 0 {
		panic(fmt.Sprintf("invalid conv1d configuration: channels=%d kernel_size=%d", channels, kernelSize))
	}

	return &AdjointConv1D{
		Channels:   channels,
		KernelSize: kernelSize,
		Weight:     tensor.NewTensor([]int{channels, channels, kernelSize}),
		Bias:       tensor.NewTensor([]int{channels}),
	}
}

// Apply performs a standard 1D convolution: stride 1, no padding, no dilation.
//
// Input shape: (batch, channels, length)
// Output shape: (batch, channels, length-kernel_size+1)
func (c *AdjointConv1D) Apply(x *tensor.Tensor) (*tensor.Tensor, error) {
	return c.convolve(x, false)
}

// ApplyAdjoint performs the convolution with the kernel axis reversed,
// reusing the same bias, stride, and padding as Apply. This is an
// approximate adjoint of the operator, not a true inverse; with kernel
// size 1 the flip is a no-op and ApplyAdjoint coincides with Apply.
func (c *AdjointConv1D) ApplyAdjoint(x *tensor.Tensor) (*tensor.Tensor, error) {
	return c.convolve(x, true)
}

func (c *AdjointConv1D) convolve(x *tensor.Tensor, flipKernel bool) (*tensor.Tensor, error) {
	if len(x.Shape) != 3 {
		return nil, fmt.Errorf("conv1d: expected 3D input (batch, channels, length), got %dD with shape %v",
			len(x.Shape), x.Shape)
	}

	batch, chans, length := x.Shape[0], x.Shape[1], x.Shape[2]
	if chans != c.Channels {
		return nil, fmt.Errorf("conv1d: input has %d channels, expected %d", chans, c.Channels)
	}
	if length < c.KernelSize {
		return nil, fmt.Errorf("conv1d: input length %d shorter than kernel size %d", length, c.KernelSize)
	}

	outLen := length - c.KernelSize + 1
	result := tensor.NewTensor([]int{batch, c.Channels, outLen})

	for b := 0; b < batch; b++ {
		for o := 0; o < c.Channels; o++ {
			for l := 0; l < outLen; l++ {
				sum := c.Bias.Data[o]
				for i := 0; i < c.Channels; i++ {
					wBase := (o*c.Channels + i) * c.KernelSize
					xBase := (b*chans+i)*length + l
					for k := 0; k < c.KernelSize; k++ {
						wIdx := wBase + k
						if flipKernel {
							wIdx = wBase + c.KernelSize - 1 - k
						}
						sum += c.Weight.Data[wIdx] * x.Data[xBase+k]
					}
				}
				result.Data[(b*c.Channels+o)*outLen+l] = sum
			}
		}
	}

	return result, nil
}
