package nn

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrLayerNotFound is returned when a named vertex does not exist.
	ErrLayerNotFound = errors.New("layer not found")
	// ErrInvalidGraph is returned when a graph configuration cannot be built.
	ErrInvalidGraph = errors.New("invalid graph configuration")
)

// Config is a validated computation graph configuration.
type Config struct {
	// Name identifies the architecture, e.g. "vgg16".
	Name string `json:"name" yaml:"name"`
	// InputShape is the (C, H, W) shape of one input example.
	InputShape []int `json:"input_shape" yaml:"input_shape"`
	// Layers are stored in topological order.
	Layers []Layer `json:"layers" yaml:"layers"`
	// Outputs names the vertices producing the network output.
	Outputs []string `json:"outputs" yaml:"outputs"`
	// CacheMode controls activation caching.
	CacheMode CacheMode `json:"cache_mode" yaml:"cache_mode"`
	// WorkspaceMode controls execution buffer reuse.
	WorkspaceMode WorkspaceMode `json:"workspace_mode" yaml:"workspace_mode"`
}

// Layer returns the named layer.
func (c *Config) Layer(name string) (Layer, bool) {
	for _, l := range c.Layers {
		if l.Name == name {
			return l, true
		}
	}
	return Layer{}, false
}

// OutputLayer returns the layer producing the first network output.
func (c *Config) OutputLayer() (Layer, error) {
	if len(c.Outputs) == 0 {
		return Layer{}, errors.Wrap(ErrInvalidGraph, "graph has no outputs")
	}
	l, ok := c.Layer(c.Outputs[0])
	if !ok {
		return Layer{}, errors.Wrapf(ErrLayerNotFound, "output %q", c.Outputs[0])
	}
	return l, nil
}

// NumParams returns the total number of scalar parameters in the graph.
func (c *Config) NumParams() int {
	n := 0
	for _, l := range c.Layers {
		n += l.NumParams()
	}
	return n
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := &Config{
		Name:          c.Name,
		InputShape:    append([]int(nil), c.InputShape...),
		Outputs:       append([]string(nil), c.Outputs...),
		CacheMode:     c.CacheMode,
		WorkspaceMode: c.WorkspaceMode,
		Layers:        make([]Layer, len(c.Layers)),
	}
	for i, l := range c.Layers {
		out.Layers[i] = l.clone()
	}
	return out
}

// GraphBuilder assembles a Config with a fluent API.
//
// Errors are deferred until Build so that calls can be chained.
//
// @example
//
//	cfg, err := nn.NewGraphBuilder("tiny", []int{3, 32, 32}).
//	    AddConv2D("conv1", nn.InputName, 8).
//	    AddMaxPool("pool1", "conv1").
//	    AddOutput("predictions", "pool1", 10).
//	    SetOutputs("predictions").
//	    Build()
type GraphBuilder struct {
	name          string
	inputShape    []int
	layers        []Layer
	outputs       []string
	cacheMode     CacheMode
	workspaceMode WorkspaceMode
	freezeUpTo    string
	err           error
}

// NewGraphBuilder starts an empty graph taking inputs of the given (C, H, W) shape.
func NewGraphBuilder(name string, inputShape []int) *GraphBuilder {
	return &GraphBuilder{
		name:          name,
		inputShape:    append([]int(nil), inputShape...),
		cacheMode:     CacheModeNone,
		workspaceMode: WorkspaceModeEnabled,
	}
}

// FromConfig starts a builder holding a copy of an existing configuration.
// Shape annotations are recomputed on Build.
func FromConfig(cfg *Config) *GraphBuilder {
	c := cfg.Clone()
	return &GraphBuilder{
		name:          c.Name,
		inputShape:    c.InputShape,
		layers:        c.Layers,
		outputs:       c.Outputs,
		cacheMode:     c.CacheMode,
		workspaceMode: c.WorkspaceMode,
	}
}

// CacheMode sets the activation cache mode.
func (b *GraphBuilder) CacheMode(m CacheMode) *GraphBuilder {
	b.cacheMode = m
	return b
}

// WorkspaceMode sets the execution buffer mode.
func (b *GraphBuilder) WorkspaceMode(m WorkspaceMode) *GraphBuilder {
	b.workspaceMode = m
	return b
}

// AddConv2D appends a ReLU convolution with nOut filters.
func (b *GraphBuilder) AddConv2D(name, input string, nOut int) *GraphBuilder {
	return b.AddLayer(Layer{Name: name, Kind: KindConv2D, Input: input, NOut: nOut, Activation: ActivationReLU})
}

// AddMaxPool appends a 2x2 max pooling.
func (b *GraphBuilder) AddMaxPool(name, input string) *GraphBuilder {
	return b.AddLayer(Layer{Name: name, Kind: KindMaxPool, Input: input})
}

// AddDense appends a ReLU fully connected layer.
func (b *GraphBuilder) AddDense(name, input string, nOut int) *GraphBuilder {
	return b.AddLayer(Layer{Name: name, Kind: KindDense, Input: input, NOut: nOut, Activation: ActivationReLU})
}

// AddOutput appends a softmax output layer trained with multi-class cross entropy.
func (b *GraphBuilder) AddOutput(name, input string, nOut int) *GraphBuilder {
	return b.AddLayer(Layer{
		Name:       name,
		Kind:       KindOutput,
		Input:      input,
		NOut:       nOut,
		Activation: ActivationSoftmax,
		Loss:       LossMCXENT,
	})
}

// AddLayer appends an arbitrary layer.
func (b *GraphBuilder) AddLayer(l Layer) *GraphBuilder {
	if b.err != nil {
		return b
	}
	if l.Name == "" || l.Name == InputName {
		b.err = errors.Wrapf(ErrInvalidGraph, "invalid layer name %q", l.Name)
		return b
	}
	if b.index(l.Name) >= 0 {
		b.err = errors.Wrapf(ErrInvalidGraph, "duplicate layer name %q", l.Name)
		return b
	}
	b.layers = append(b.layers, l.clone())
	return b
}

// RemoveVertexKeepConnections removes a layer while leaving the inputs of its
// consumers untouched, so that a replacement with the same name re-attaches.
// Build restores topological order, so the replacement may be added last.
func (b *GraphBuilder) RemoveVertexKeepConnections(name string) *GraphBuilder {
	if b.err != nil {
		return b
	}
	i := b.index(name)
	if i < 0 {
		b.err = errors.Wrapf(ErrLayerNotFound, "remove %q", name)
		return b
	}
	b.layers = append(b.layers[:i], b.layers[i+1:]...)

	outputs := b.outputs[:0]
	for _, o := range b.outputs {
		if o != name {
			outputs = append(outputs, o)
		}
	}
	b.outputs = outputs
	return b
}

// SetFeatureExtractor freezes the named layer and every layer it depends on.
func (b *GraphBuilder) SetFeatureExtractor(name string) *GraphBuilder {
	if b.err != nil {
		return b
	}
	if b.index(name) < 0 {
		b.err = errors.Wrapf(ErrLayerNotFound, "feature extractor %q", name)
		return b
	}
	b.freezeUpTo = name
	return b
}

// SetOutputs names the output vertices.
func (b *GraphBuilder) SetOutputs(names ...string) *GraphBuilder {
	b.outputs = append([]string(nil), names...)
	return b
}

// Build validates the graph, infers layer input sizes and activation shapes.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: ErrInvalidGraph or ErrLayerNotFound wrapped with details.
func (b *GraphBuilder) Build() (*Config, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.inputShape) != 3 {
		return nil, errors.Wrapf(ErrInvalidGraph, "input shape must be (C, H, W), got %v", b.inputShape)
	}
	for _, d := range b.inputShape {
		if d <= 0 {
			return nil, errors.Wrapf(ErrInvalidGraph, "input shape must be positive, got %v", b.inputShape)
		}
	}

	shapes := map[string][]int{InputName: b.inputShape}
	layers := make([]Layer, 0, len(b.layers))
	for _, l := range topoSort(b.layers) {
		in, ok := shapes[l.Input]
		if !ok {
			return nil, errors.Wrapf(ErrLayerNotFound, "input %q of layer %q", l.Input, l.Name)
		}
		out, err := inferLayer(&l, in)
		if err != nil {
			return nil, err
		}
		l.InShape = append([]int(nil), in...)
		l.OutShape = out
		shapes[l.Name] = out
		layers = append(layers, l)
	}

	if len(b.outputs) == 0 {
		return nil, errors.Wrap(ErrInvalidGraph, "graph has no outputs")
	}
	for _, o := range b.outputs {
		if _, ok := shapes[o]; !ok || o == InputName {
			return nil, errors.Wrapf(ErrLayerNotFound, "output %q", o)
		}
	}

	if b.freezeUpTo != "" {
		freeze(layers, b.freezeUpTo)
	}

	return &Config{
		Name:          b.name,
		InputShape:    append([]int(nil), b.inputShape...),
		Layers:        layers,
		Outputs:       append([]string(nil), b.outputs...),
		CacheMode:     b.cacheMode,
		WorkspaceMode: b.workspaceMode,
	}, nil
}

func (b *GraphBuilder) index(name string) int {
	for i, l := range b.layers {
		if l.Name == name {
			return i
		}
	}
	return -1
}

// topoSort orders layers so that every layer follows its input, keeping the
// insertion order among independent layers. Layers whose input never appears
// are left at the end, where Build reports them.
func topoSort(layers []Layer) []Layer {
	placed := map[string]bool{InputName: true}
	sorted := make([]Layer, 0, len(layers))
	pending := layers
	for len(pending) > 0 {
		var rest []Layer
		for _, l := range pending {
			if placed[l.Input] {
				placed[l.Name] = true
				sorted = append(sorted, l)
			} else {
				rest = append(rest, l)
			}
		}
		if len(rest) == len(pending) {
			return append(sorted, rest...)
		}
		pending = rest
	}
	return sorted
}

func inferLayer(l *Layer, in []int) ([]int, error) {
	switch l.Kind {
	case KindConv2D:
		if len(in) != 3 {
			return nil, errors.Wrapf(ErrInvalidGraph, "conv %q needs a (C, H, W) input, got %v", l.Name, in)
		}
		if err := checkNIn(l, in[0]); err != nil {
			return nil, err
		}
		if l.NOut <= 0 {
			return nil, errors.Wrapf(ErrInvalidGraph, "conv %q needs a positive nOut", l.Name)
		}
		return []int{l.NOut, in[1], in[2]}, nil
	case KindMaxPool:
		if len(in) != 3 {
			return nil, errors.Wrapf(ErrInvalidGraph, "pool %q needs a (C, H, W) input, got %v", l.Name, in)
		}
		if in[1] < 2 || in[2] < 2 {
			return nil, errors.Wrapf(ErrInvalidGraph, "pool %q input %v is too small", l.Name, in)
		}
		l.NIn, l.NOut = in[0], in[0]
		return []int{in[0], in[1] / 2, in[2] / 2}, nil
	case KindDense, KindOutput:
		if err := checkNIn(l, volume(in)); err != nil {
			return nil, err
		}
		if l.NOut <= 0 {
			return nil, errors.Wrapf(ErrInvalidGraph, "layer %q needs a positive nOut", l.Name)
		}
		return []int{l.NOut}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidGraph, "layer %q has unsupported kind %q", l.Name, l.Kind)
	}
}

func checkNIn(l *Layer, inferred int) error {
	if l.NIn != 0 && l.NIn != inferred {
		return errors.Wrap(ErrInvalidGraph, fmt.Sprintf("layer %q declares nIn=%d but receives %d", l.Name, l.NIn, inferred))
	}
	l.NIn = inferred
	return nil
}

// freeze marks name and all of its ancestors as frozen.
func freeze(layers []Layer, name string) {
	byName := make(map[string]int, len(layers))
	for i, l := range layers {
		byName[l.Name] = i
	}
	for next := name; next != InputName; {
		i, ok := byName[next]
		if !ok {
			return
		}
		layers[i].Frozen = true
		next = layers[i].Input
	}
}
