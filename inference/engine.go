// Package inference - Image classification with built zoo networks.
package inference

import (
	"context"
	"image"
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-zoo/models"
	"github.com/nvr-ai/go-zoo/models/model"
	"github.com/nvr-ai/go-zoo/nn"
)

// DefaultTopK is the number of predictions returned when none is configured.
const DefaultTopK = 5

// Prediction is one labelled class probability.
type Prediction struct {
	Index       int     `json:"index"`
	Label       string  `json:"label"`
	Probability float32 `json:"probability"`
}

// Engine defines the interface for image classifiers.
type Engine interface {
	Predict(ctx context.Context, img image.Image) ([]Prediction, error)
	Close() error
}

// Classifier runs a compiled network on single images.
type Classifier struct {
	machine *nn.Machine
	shape   []int
	classes ClassSet
	topK    int
}

var _ Engine = (*Classifier)(nil)

// NewClassifier compiles net for single-image inference.
//
// Arguments:
//   - net: A network whose output layer is a softmax.
//   - classes: Labels of the output indices. May be nil.
//   - topK: The number of predictions returned by Predict. Values <= 0 use DefaultTopK.
//
// Returns:
//   - *Classifier: The classifier. Close it when done.
//   - error: An error if the network cannot be compiled.
func NewClassifier(net *nn.Network, classes ClassSet, topK int) (*Classifier, error) {
	out, err := net.Config().OutputLayer()
	if err != nil {
		return nil, err
	}
	if out.Activation != nn.ActivationSoftmax {
		return nil, errors.Errorf("output layer %q is not a softmax", out.Name)
	}
	m, err := nn.Compile(net, 1)
	if err != nil {
		return nil, errors.Wrap(err, "compile network")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Classifier{
		machine: m,
		shape:   append([]int(nil), net.Config().InputShape...),
		classes: classes,
		topK:    topK,
	}, nil
}

// Predict classifies img and returns the most probable classes, best first.
//
// Arguments:
//   - ctx: The context for the prediction.
//   - img: The image to classify.
//
// Returns:
//   - []Prediction: At most topK predictions.
//   - error: The error if any.
func (c *Classifier) Predict(ctx context.Context, img image.Image) ([]Prediction, error) {
	input, err := Preprocess(img, c.shape)
	if err != nil {
		return nil, err
	}
	out, err := c.machine.Run(ctx, input)
	if err != nil {
		return nil, err
	}
	probs, ok := out.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unexpected output type %T", out.Data())
	}
	return c.top(probs), nil
}

func (c *Classifier) top(probs []float32) []Prediction {
	preds := make([]Prediction, len(probs))
	for i, p := range probs {
		preds[i] = Prediction{Index: i, Label: c.classes.Name(i), Probability: p}
	}
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Probability > preds[j].Probability })
	if len(preds) > c.topK {
		preds = preds[:c.topK]
	}
	return preds
}

// Close releases the compiled network.
func (c *Classifier) Close() error {
	return c.machine.Close()
}

// EngineBuilder builds a Classifier from a registered model with a fluent API.
type EngineBuilder struct {
	adapter model.Adapter
	args    model.BuildArgs
	classes ClassSet
	topK    int
	err     error
}

// NewEngineBuilder creates a new engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{}
}

// WithModel creates the adapter from the registry.
func (b *EngineBuilder) WithModel(args model.NewModelArgs) *EngineBuilder {
	if b.HasError() {
		return b
	}
	adapter, err := models.NewModel(args)
	if err != nil {
		b.err = err
		return b
	}
	b.adapter = adapter
	return b
}

// WithAdapter uses an already configured adapter.
func (b *EngineBuilder) WithAdapter(a model.Adapter) *EngineBuilder {
	b.adapter = a
	return b
}

// WithBuildArgs sets the arguments the network is built with.
func (b *EngineBuilder) WithBuildArgs(args model.BuildArgs) *EngineBuilder {
	b.args = args
	return b
}

// WithClasses sets the output labels.
func (b *EngineBuilder) WithClasses(classes ClassSet) *EngineBuilder {
	b.classes = classes
	return b
}

// WithTopK sets the number of predictions returned.
func (b *EngineBuilder) WithTopK(k int) *EngineBuilder {
	b.topK = k
	return b
}

// HasError checks if the engine builder has errors.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build builds the network and compiles the classifier.
//
// When no label count was set, the size of the class set is used.
func (b *EngineBuilder) Build(ctx context.Context) (Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.adapter == nil {
		return nil, errors.New("model not configured")
	}
	args := b.args
	if args.NumLabels == 0 {
		args.NumLabels = len(b.classes)
	}
	if len(b.classes) > 0 && args.NumLabels != len(b.classes) {
		return nil, errors.Errorf("%d classes given for %d labels", len(b.classes), args.NumLabels)
	}
	if len(args.Shape) == 0 {
		shapes, err := b.adapter.Shape()
		if err != nil {
			return nil, err
		}
		args.Shape = shapes[0]
	}

	net, err := b.adapter.Build(ctx, args)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s", b.adapter.Name())
	}
	return NewClassifier(net, b.classes, b.topK)
}
