package inference

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-zoo/models/model"
	"github.com/nvr-ai/go-zoo/models/vgg"
	"github.com/nvr-ai/go-zoo/nn"
	"github.com/nvr-ai/go-zoo/weights"
	"github.com/nvr-ai/go-zoo/zoo"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func tinyNetwork(t *testing.T, classes int) *nn.Network {
	t.Helper()
	cfg, err := nn.NewGraphBuilder("tiny", []int{3, 8, 8}).
		AddConv2D("conv1", nn.InputName, 2).
		AddMaxPool("pool1", "conv1").
		AddDense("fc1", "pool1", 4).
		AddOutput("predictions", "fc1", classes).
		SetOutputs("predictions").
		Build()
	require.NoError(t, err)
	return nn.Init(cfg, 3)
}

func TestPreprocess(t *testing.T) {
	img := solidImage(20, 10, color.RGBA{R: 255, G: 128, B: 0, A: 255})

	x, err := Preprocess(img, []int{3, 4, 6})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 4, 6}, []int(x.Shape()))

	data := x.Data().([]float32)
	plane := 4 * 6
	assert.InDelta(t, 255-123.68, data[0], 1e-3)
	assert.InDelta(t, 128-116.779, data[plane], 1e-3)
	assert.InDelta(t, 0-103.939, data[2*plane], 1e-3)

	gray, err := Preprocess(img, []int{1, 4, 4})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 4, 4}, []int(gray.Shape()))
}

func TestPreprocessInvalidShape(t *testing.T) {
	img := solidImage(4, 4, color.White)
	for _, shape := range [][]int{{224, 224}, {2, 8, 8}, {3, 0, 8}} {
		_, err := Preprocess(img, shape)
		assert.Error(t, err, "shape %v", shape)
	}
}

func TestClassifierPredict(t *testing.T) {
	classes := ClassSet{"a", "b", "c", "d"}
	c, err := NewClassifier(tinyNetwork(t, 4), classes, 2)
	require.NoError(t, err)
	defer c.Close()

	preds, err := c.Predict(context.Background(), solidImage(16, 16, color.Gray{Y: 90}))
	require.NoError(t, err)
	require.Len(t, preds, 2)
	assert.GreaterOrEqual(t, preds[0].Probability, preds[1].Probability)
	assert.Equal(t, classes.Name(preds[0].Index), preds[0].Label)
}

func TestClassifierRejectsNonSoftmax(t *testing.T) {
	cfg, err := nn.NewGraphBuilder("linear", []int{3, 4, 4}).
		AddDense("fc1", nn.InputName, 2).
		SetOutputs("fc1").
		Build()
	require.NoError(t, err)

	_, err = NewClassifier(nn.Init(cfg, 1), nil, 0)
	assert.Error(t, err)
}

func TestClassifierTopKDefault(t *testing.T) {
	c, err := NewClassifier(tinyNetwork(t, 8), nil, 0)
	require.NoError(t, err)
	defer c.Close()

	preds, err := c.Predict(context.Background(), solidImage(8, 8, color.Black))
	require.NoError(t, err)
	assert.Len(t, preds, DefaultTopK)
	assert.Equal(t, fmt.Sprintf("class_%d", preds[0].Index), preds[0].Label)
}

func TestClassSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("# faces\nalice\n\nbob\n"), 0o644))

	set, err := LoadClassSet(path)
	require.NoError(t, err)
	assert.Equal(t, ClassSet{"alice", "bob"}, set)
	assert.Equal(t, 1, set.Index("bob"))
	assert.Equal(t, -1, set.Index("carol"))
	assert.Equal(t, "class_7", set.Name(7))
	assert.Len(t, CIFAR10Classes, 10)

	_, err = LoadClassSet(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestEngineBuilder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	log := logger.WithField("component", "vgg")
	adapter := vgg.New(
		vgg.WithPretrainedType(zoo.PretrainedNone),
		vgg.WithLogger(log),
		vgg.WithWeights(weights.NewStore(t.TempDir(), "", log)),
		vgg.WithWorkspaceMode(func() nn.WorkspaceMode { return nn.WorkspaceModeNone }),
	)

	_, err := NewEngineBuilder().Build(context.Background())
	assert.Error(t, err, "a model is required")

	_, err = NewEngineBuilder().
		WithAdapter(adapter).
		WithClasses(CIFAR10Classes).
		WithBuildArgs(model.BuildArgs{NumLabels: 3, Shape: []int{3, 32, 32}}).
		Build(context.Background())
	assert.Error(t, err, "class count must match the label count")

	_, err = NewEngineBuilder().WithModel(model.NewModelArgs{Name: "resnet"}).Build(context.Background())
	assert.Error(t, err)
}

func TestParsePrecision(t *testing.T) {
	p, err := ParsePrecision("fp16")
	require.NoError(t, err)
	assert.Equal(t, weights.DTypeF16, p.DType())
	assert.Equal(t, weights.DTypeF32, PrecisionFP32.DType())

	_, err = ParsePrecision("int8")
	assert.Error(t, err)
}
