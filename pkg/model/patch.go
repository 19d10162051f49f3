package model

import (
	"fmt"

	"govit/pkg/tensor"
)

// PatchEmbed splits an image into non-overlapping square patches and
// projects each flattened patch into the embedding dimension.
//
// This is the linear-projection formulation of the strided patch
// convolution: every patch is flattened to a vector of
// in_chans*patch_size*patch_size values (channel-major, then row-major
// within the channel) and multiplied by a shared (patch_dim, embed_dim)
// weight, which is exactly a conv with kernel = stride = patch_size.
type PatchEmbed struct {
	ImgSize    int
	PatchSize  int
	InChans    int
	EmbedDim   int
	NumPatches int

	Proj *Linear // (in_chans*patch_size*patch_size, embed_dim)
}

// NewPatchEmbed creates a patch embedding layer.
func NewPatchEmbed(imgSize, patchSize, inChans, embedDim int) *PatchEmbed {
	side := imgSize / patchSize
	patchDim := inChans * patchSize * patchSize

	return &PatchEmbed{
		ImgSize:    imgSize,
		PatchSize:  patchSize,
		InChans:    inChans,
		EmbedDim:   embedDim,
		NumPatches: side * side,
		Proj:       NewLinear(patchDim, embedDim, true),
	}
}

// Forward embeds a batch of images.
//
// Input shape: (batch, in_chans, img_size, img_size)
// Output shape: (batch, num_patches, embed_dim)
func (p *PatchEmbed) Forward(images *tensor.Tensor) (*tensor.Tensor, error) {
	if len(images.Shape) != 4 {
		return nil, fmt.Errorf("expected 4D input (batch, chans, height, width), got %dD with shape %v",
			len(images.Shape), images.Shape)
	}

	batch, chans, height, width := images.Shape[0], images.Shape[1], images.Shape[2], images.Shape[3]
	if chans != p.InChans {
		return nil, fmt.Errorf("input has %d channels, expected %d", chans, p.InChans)
	}
	if height != p.ImgSize || width != p.ImgSize {
		return nil, fmt.Errorf("input is %dx%d, expected %dx%d", height, width, p.ImgSize, p.ImgSize)
	}

	side := p.ImgSize / p.PatchSize
	patchDim := p.InChans * p.PatchSize * p.PatchSize

	// Gather patches: (batch, num_patches, patch_dim)
	patches := tensor.NewTensor([]int{batch, p.NumPatches, patchDim})

	for b := 0; b < batch; b++ {
		for py := 0; py < side; py++ {
			for px := 0; px < side; px++ {
				patchIdx := py*side + px
				dst := (b*p.NumPatches + patchIdx) * patchDim

				i := 0
				for c := 0; c < p.InChans; c++ {
					for y := 0; y < p.PatchSize; y++ {
						srcRow := ((b*chans+c)*height + py*p.PatchSize + y) * width
						srcCol := px * p.PatchSize
						copy(patches.Data[dst+i:dst+i+p.PatchSize],
							images.Data[srcRow+srcCol:srcRow+srcCol+p.PatchSize])
						i += p.PatchSize
					}
				}
			}
		}
	}

	// Project each patch into embedding space
	embedded, err := p.Proj.Forward(patches)
	if err != nil {
		return nil, fmt.Errorf("failed to project patches: %w", err)
	}

	return embedded, nil
}
