// Package zoo - Published network architectures and their pretrained weight sets.
package zoo

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-zoo/nn"
	"github.com/nvr-ai/go-zoo/weights"
)

// ErrPretrainedUnavailable is returned when an architecture is not distributed
// with the requested pretrained weight set.
var ErrPretrainedUnavailable = errors.New("pretrained weights not available")

// PretrainedType identifies the dataset a weight set was trained on.
type PretrainedType string

const (
	// PretrainedNone requests random initialisation.
	PretrainedNone PretrainedType = "NONE"
	// PretrainedImageNet is the ILSVRC 1000-class image weight set.
	PretrainedImageNet PretrainedType = "IMAGENET"
	// PretrainedMNIST is the handwritten digit weight set.
	PretrainedMNIST PretrainedType = "MNIST"
	// PretrainedCIFAR10 is the 10-class tiny image weight set.
	PretrainedCIFAR10 PretrainedType = "CIFAR10"
	// PretrainedVGGFace is the 2622-identity face recognition weight set.
	PretrainedVGGFace PretrainedType = "VGGFACE"
	// PretrainedSegment is the segmentation weight set.
	PretrainedSegment PretrainedType = "SEGMENT"
)

// PretrainedTypes lists every known pretrained type.
var PretrainedTypes = []PretrainedType{
	PretrainedNone,
	PretrainedImageNet,
	PretrainedMNIST,
	PretrainedCIFAR10,
	PretrainedVGGFace,
	PretrainedSegment,
}

// ParsePretrainedType parses a pretrained type name, case-insensitively.
func ParsePretrainedType(s string) (PretrainedType, error) {
	for _, t := range PretrainedTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unsupported pretrained type: %q", s)
}

// WeightSource resolves a weight file name to a local path.
type WeightSource interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// MetaData describes the inputs and outputs an architecture accepts.
type MetaData struct {
	// InputShape lists accepted (C, H, W) input shapes, preferred first.
	InputShape [][]int `json:"input_shape" yaml:"input_shape"`
	// NumOutputs is the configured class count.
	NumOutputs int `json:"num_outputs" yaml:"num_outputs"`
}

// Option configures a zoo model.
type Option func(*Model)

// WithCacheMode sets the activation cache mode of the built graph.
func WithCacheMode(m nn.CacheMode) Option {
	return func(z *Model) { z.cacheMode = m }
}

// WithWorkspaceMode sets the execution buffer mode of the built graph.
func WithWorkspaceMode(m nn.WorkspaceMode) Option {
	return func(z *Model) { z.workspaceMode = m }
}

// WithInputShape overrides the (C, H, W) input shape.
func WithInputShape(shape []int) Option {
	return func(z *Model) {
		if len(shape) > 0 {
			z.inputShape = append([]int(nil), shape...)
		}
	}
}

// WithNumClasses overrides the number of output classes.
func WithNumClasses(n int) Option {
	return func(z *Model) { z.numClasses = n }
}

// WithSeed sets the seed used by Init.
func WithSeed(seed int64) Option {
	return func(z *Model) { z.seed = seed }
}

// DefaultSeed is the initialisation seed of a model built without WithSeed.
const DefaultSeed int64 = 1234

// Model is a configured zoo architecture ready to be initialised.
type Model struct {
	arch          architecture
	cacheMode     nn.CacheMode
	workspaceMode nn.WorkspaceMode
	inputShape    []int
	numClasses    int
	seed          int64
}

func newModel(arch architecture, opts []Option) *Model {
	m := &Model{
		arch:          arch,
		cacheMode:     nn.CacheModeNone,
		workspaceMode: nn.WorkspaceModeEnabled,
		inputShape:    append([]int(nil), arch.inputShape...),
		numClasses:    arch.numClasses,
		seed:          DefaultSeed,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the architecture name.
func (m *Model) Name() string {
	return m.arch.name
}

// InputShape returns the configured (C, H, W) input shape.
func (m *Model) InputShape() []int {
	return append([]int(nil), m.inputShape...)
}

// NumClasses returns the configured class count.
func (m *Model) NumClasses() int {
	return m.numClasses
}

// Conf returns the graph configuration for the configured shape and class count.
func (m *Model) Conf() (*nn.Config, error) {
	return m.conf(m.arch.naming, m.numClasses)
}

func (m *Model) conf(n naming, classes int) (*nn.Config, error) {
	b := nn.NewGraphBuilder(m.arch.name, m.inputShape).
		CacheMode(m.cacheMode).
		WorkspaceMode(m.workspaceMode)
	cfg, err := m.arch.graph(b, n, classes).Build()
	if err != nil {
		return nil, errors.Wrapf(err, "configure %s", m.arch.name)
	}
	return cfg, nil
}

// Init returns a freshly initialised network. Nothing is cached between calls.
func (m *Model) Init() (*nn.Network, error) {
	cfg, err := m.Conf()
	if err != nil {
		return nil, err
	}
	return nn.Init(cfg, m.seed), nil
}

// MetaData returns the accepted input shapes and class count.
func (m *Model) MetaData() MetaData {
	shapes := [][]int{m.InputShape()}
	if !sameShape(m.inputShape, m.arch.minInputShape) {
		shapes = append(shapes, append([]int(nil), m.arch.minInputShape...))
	}
	return MetaData{InputShape: shapes, NumOutputs: m.numClasses}
}

// PretrainedAvailable reports whether the architecture ships weights for t.
func (m *Model) PretrainedAvailable(t PretrainedType) bool {
	_, ok := m.arch.pretrained[t]
	return ok
}

// InitPretrained returns a network carrying the pretrained weights of t.
//
// The network uses the layer naming and class count the weight set was
// published with, and the model's configured input shape.
//
// Returns:
//   - *nn.Network: The pretrained network.
//   - error: ErrPretrainedUnavailable, weights.ErrNotFound, or a load failure.
func (m *Model) InitPretrained(ctx context.Context, src WeightSource, t PretrainedType) (*nn.Network, error) {
	cfg, err := m.PretrainedConf(t)
	if err != nil {
		return nil, err
	}

	p := m.arch.pretrained[t]
	path, err := src.Resolve(ctx, p.file)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s %s weights", m.arch.name, t)
	}
	net := nn.Init(cfg, m.seed)
	if err := weights.LoadFile(net, path); err != nil {
		return nil, errors.Wrapf(err, "load %s %s weights", m.arch.name, t)
	}
	return net, nil
}

// PretrainedConf returns the graph configuration the weight set t was published with.
func (m *Model) PretrainedConf(t PretrainedType) (*nn.Config, error) {
	p, ok := m.arch.pretrained[t]
	if !ok {
		return nil, errors.Wrapf(ErrPretrainedUnavailable, "%s %s", m.arch.name, t)
	}
	return m.conf(p.naming, p.numClasses)
}

// PretrainedFile returns the weight file name published for t.
func (m *Model) PretrainedFile(t PretrainedType) (string, bool) {
	p, ok := m.arch.pretrained[t]
	return p.file, ok
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
