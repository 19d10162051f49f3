package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"govit/pkg/model"
	"govit/pkg/tensor"
)

func main() {
	// Define command line flags
	imgSize := flag.Int("img-size", 224, "Input image size in pixels")
	patchSize := flag.Int("patch-size", 16, "Patch size in pixels")
	depth := flag.Int("depth", 12, "Number of transformer blocks")
	embedDim := flag.Int("embed-dim", 768, "Embedding dimension")
	numHeads := flag.Int("num-heads", 12, "Number of attention heads")
	numClasses := flag.Int("num-classes", 1000, "Number of output classes")
	feedback := flag.Int("feedback-layers", 10, "Last block index with class-token feedback")
	batch := flag.Int("batch", 2, "Number of random images to classify")
	topK := flag.Int("top-k", 5, "Number of top predictions to show per image")
	seed := flag.Int64("seed", 42, "Random seed for weights and inputs")

	flag.Parse()

	rand.Seed(*seed)

	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("         ViT Image Classification")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	// Create model configuration
	config := model.DefaultViTConfig()
	config.ImgSize = *imgSize
	config.PatchSize = *patchSize
	config.Depth = *depth
	config.EmbedDim = *embedDim
	config.NumHeads = *numHeads
	config.NumClasses = *numClasses
	config.NumFeedbackLayers = *feedback

	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Model Configuration:\n")
	fmt.Printf("  Image Size: %d\n", config.ImgSize)
	fmt.Printf("  Patch Size: %d\n", config.PatchSize)
	fmt.Printf("  Num Patches: %d\n", config.NumPatches())
	fmt.Printf("  Embedding Dim: %d\n", config.EmbedDim)
	fmt.Printf("  Num Heads: %d\n", config.NumHeads)
	fmt.Printf("  Depth: %d\n", config.Depth)
	fmt.Printf("  Feedback Layers: %d\n", config.NumFeedbackLayers)
	fmt.Printf("  Alpha: %.1f\n", config.Alpha)
	fmt.Printf("  Num Classes: %d\n", config.NumClasses)
	fmt.Println()

	// Create the model
	fmt.Println("Initializing vision transformer...")
	vit := model.NewVisionTransformer(config)
	vit.SetTraining(false)
	fmt.Println("Model initialized successfully!")
	fmt.Println("Note: Weights are randomly initialized (model is untrained)")
	fmt.Println()

	// Build a batch of random images
	images := tensor.NewTensor([]int{*batch, config.InChans, config.ImgSize, config.ImgSize})
	for i := range images.Data {
		images.Data[i] = float32(rand.NormFloat64())
	}

	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("             Classifying...")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	predictions, err := model.TopK(vit, images, *topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error classifying images: %v\n", err)
		os.Exit(1)
	}

	for b, preds := range predictions {
		fmt.Printf("Image %d:\n", b)
		for rank, p := range preds {
			fmt.Printf("  %d. class %4d  prob %.4f\n", rank+1, p.Class, p.Prob)
		}
		fmt.Println()
	}

	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("              Statistics")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("  Images classified: %d\n", *batch)
	fmt.Printf("  Tokens per image:  %d\n", config.NumPatches()+1)
	fmt.Printf("  Predictions shown: %d per image\n", *topK)
}
