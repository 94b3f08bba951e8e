package zoo

import (
	"fmt"

	"github.com/nvr-ai/go-zoo/nn"
)

// naming maps architecture positions to the layer names a weight set uses.
type naming struct {
	conv       func(block, index int) string
	pool       func(block int) string
	dense      [2]string
	prediction string
}

// kerasNaming is used by the ImageNet and CIFAR-10 weight sets.
var kerasNaming = naming{
	conv:       func(block, index int) string { return fmt.Sprintf("block%d_conv%d", block, index) },
	pool:       func(block int) string { return fmt.Sprintf("block%d_pool", block) },
	dense:      [2]string{"fc1", "fc2"},
	prediction: "predictions",
}

// vggFaceNaming is used by the VGGFace weight set.
var vggFaceNaming = naming{
	conv:       func(block, index int) string { return fmt.Sprintf("conv%d_%d", block, index) },
	pool:       func(block int) string { return fmt.Sprintf("pool%d", block) },
	dense:      [2]string{"fc6", "fc7"},
	prediction: "fc8",
}

type weightSet struct {
	file       string
	numClasses int
	naming     naming
}

type architecture struct {
	name          string
	blocks        []int
	widths        []int
	embedding     int
	inputShape    []int
	minInputShape []int
	numClasses    int
	naming        naming
	pretrained    map[PretrainedType]weightSet
}

const (
	// VGG16Name is the architecture name of VGG16.
	VGG16Name = "vgg16"
	// VGG19Name is the architecture name of VGG19.
	VGG19Name = "vgg19"
	// VGGEmbeddingSize is the width of both fully connected VGG layers.
	VGGEmbeddingSize = 4096
)

var (
	vggInputShape    = []int{3, 224, 224}
	vggMinInputShape = []int{3, 32, 32}
	vggWidths        = []int{64, 128, 256, 512, 512}
)

func vggArchitecture(name string, blocks []int, pretrained map[PretrainedType]weightSet) architecture {
	return architecture{
		name:          name,
		blocks:        blocks,
		widths:        vggWidths,
		embedding:     VGGEmbeddingSize,
		inputShape:    vggInputShape,
		minInputShape: vggMinInputShape,
		numClasses:    1000,
		naming:        kerasNaming,
		pretrained:    pretrained,
	}
}

// graph appends the conv stacks, two dense layers and the prediction layer.
func (a architecture) graph(b *nn.GraphBuilder, n naming, classes int) *nn.GraphBuilder {
	prev := nn.InputName
	for block, convs := range a.blocks {
		for i := 1; i <= convs; i++ {
			name := n.conv(block+1, i)
			b.AddConv2D(name, prev, a.widths[block])
			prev = name
		}
		name := n.pool(block + 1)
		b.AddMaxPool(name, prev)
		prev = name
	}
	for _, name := range n.dense {
		b.AddDense(name, prev, a.embedding)
		prev = name
	}
	return b.AddOutput(n.prediction, prev, classes).SetOutputs(n.prediction)
}

var vgg16 = vggArchitecture(VGG16Name, []int{2, 2, 3, 3, 3}, map[PretrainedType]weightSet{
	PretrainedImageNet: {file: "vgg16_imagenet.safetensors", numClasses: 1000, naming: kerasNaming},
	PretrainedCIFAR10:  {file: "vgg16_cifar10.safetensors", numClasses: 10, naming: kerasNaming},
	PretrainedVGGFace:  {file: "vgg16_vggface.safetensors", numClasses: 2622, naming: vggFaceNaming},
})

var vgg19 = vggArchitecture(VGG19Name, []int{2, 2, 4, 4, 4}, map[PretrainedType]weightSet{
	PretrainedImageNet: {file: "vgg19_imagenet.safetensors", numClasses: 1000, naming: kerasNaming},
})

// VGG16 returns the 16-layer VGG network of Simonyan and Zisserman.
//
// Defaults: input 3x224x224, 1000 classes, cache mode NONE, workspace ENABLED.
func VGG16(opts ...Option) *Model {
	return newModel(vgg16, opts)
}

// VGG19 returns the 19-layer VGG network.
func VGG19(opts ...Option) *Model {
	return newModel(vgg19, opts)
}
