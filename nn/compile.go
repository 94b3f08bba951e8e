package nn

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Machine executes a compiled network forward pass on a gorgonia graph.
type Machine struct {
	g      *G.ExprGraph
	input  *G.Node
	output *G.Node
	batch  int
	shape  []int
	mode   WorkspaceMode
	cache  CacheMode

	mu     sync.Mutex
	vm     G.VM
	last   *tensor.Dense
	result *tensor.Dense
}

// Compile builds the inference graph of net for a fixed batch size.
//
// Arguments:
//   - net: The network to compile. Every parameter is materialised.
//   - batch: The number of examples per run.
//
// Returns:
//   - *Machine: The executable machine. Close it when done.
//   - error: An error if a layer cannot be expressed on the graph.
func Compile(net *Network, batch int) (*Machine, error) {
	cfg := net.Config()
	if batch <= 0 {
		return nil, errors.Errorf("batch must be positive, got %d", batch)
	}
	out, err := cfg.OutputLayer()
	if err != nil {
		return nil, err
	}

	g := G.NewGraph()
	shape := append([]int{batch}, cfg.InputShape...)
	x := G.NewTensor(g, tensor.Float32, 4, G.WithShape(shape...), G.WithName(InputName))

	nodes := map[string]*G.Node{InputName: x}
	for _, l := range cfg.Layers {
		in, ok := nodes[l.Input]
		if !ok {
			return nil, errors.Wrapf(ErrLayerNotFound, "input %q of layer %q", l.Input, l.Name)
		}
		var y *G.Node
		switch l.Kind {
		case KindConv2D:
			y, err = compileConv(g, net, l, in)
		case KindMaxPool:
			y, err = G.MaxPool2D(in, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
		case KindDense, KindOutput:
			y, err = compileDense(g, net, l, in, batch)
		default:
			err = errors.Wrapf(ErrInvalidGraph, "layer %q has unsupported kind %q", l.Name, l.Kind)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "compile layer %q", l.Name)
		}
		nodes[l.Name] = y
	}

	m := &Machine{
		g:      g,
		input:  x,
		output: nodes[out.Name],
		batch:  batch,
		shape:  shape,
		mode:   cfg.WorkspaceMode,
		cache:  cfg.CacheMode,
	}
	if m.mode == WorkspaceModeEnabled {
		m.vm = G.NewTapeMachine(g)
	}
	return m, nil
}

func compileConv(g *G.ExprGraph, net *Network, l Layer, in *G.Node) (*G.Node, error) {
	p, err := net.Params(l.Name)
	if err != nil {
		return nil, err
	}
	w := G.NewTensor(g, tensor.Float32, 4, G.WithShape(p.W.Shape()...), G.WithName(l.Name+".weight"), G.WithValue(p.W))
	y, err := G.Conv2d(in, w, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, err
	}

	bias, err := reshaped(p.B, 1, l.NOut, 1, 1)
	if err != nil {
		return nil, err
	}
	b := G.NewTensor(g, tensor.Float32, 4, G.WithShape(1, l.NOut, 1, 1), G.WithName(l.Name+".bias"), G.WithValue(bias))
	if y, err = G.BroadcastAdd(y, b, nil, []byte{0, 2, 3}); err != nil {
		return nil, err
	}
	return activate(y, l.Activation)
}

func compileDense(g *G.ExprGraph, net *Network, l Layer, in *G.Node, batch int) (*G.Node, error) {
	p, err := net.Params(l.Name)
	if err != nil {
		return nil, err
	}
	if in.Dims() != 2 {
		if in, err = G.Reshape(in, tensor.Shape{batch, l.NIn}); err != nil {
			return nil, err
		}
	}
	w := G.NewMatrix(g, tensor.Float32, G.WithShape(l.NIn, l.NOut), G.WithName(l.Name+".weight"), G.WithValue(p.W))
	y, err := G.Mul(in, w)
	if err != nil {
		return nil, err
	}

	bias, err := reshaped(p.B, 1, l.NOut)
	if err != nil {
		return nil, err
	}
	b := G.NewMatrix(g, tensor.Float32, G.WithShape(1, l.NOut), G.WithName(l.Name+".bias"), G.WithValue(bias))
	if y, err = G.BroadcastAdd(y, b, nil, []byte{0}); err != nil {
		return nil, err
	}
	return activate(y, l.Activation)
}

func activate(x *G.Node, a Activation) (*G.Node, error) {
	switch a {
	case ActivationReLU:
		return G.Rectify(x)
	case ActivationSoftmax:
		return G.SoftMax(x)
	case ActivationIdentity, "":
		return x, nil
	default:
		return nil, errors.Errorf("unsupported activation %q", a)
	}
}

// reshaped returns a reshaped copy so the stored parameter keeps its layout.
func reshaped(t *tensor.Dense, shape ...int) (*tensor.Dense, error) {
	c := t.Clone().(*tensor.Dense)
	if err := c.Reshape(shape...); err != nil {
		return nil, err
	}
	return c, nil
}

// Shape returns the (N, C, H, W) input shape expected by Run.
func (m *Machine) Shape() []int {
	return append([]int(nil), m.shape...)
}

// Run performs one forward pass and returns a copy of the network output.
//
// With CacheModeHost, running the same input tensor twice in a row returns
// the cached output without executing the graph.
func (m *Machine) Run(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !sameShape(input.Shape(), m.shape) {
		return nil, errors.Wrapf(ErrShapeMismatch, "input: want %v, got %v", m.shape, input.Shape())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache == CacheModeHost && m.last == input && m.result != nil {
		return m.result.Clone().(*tensor.Dense), nil
	}

	if err := G.Let(m.input, input); err != nil {
		return nil, errors.Wrap(err, "bind input")
	}

	vm := m.vm
	if vm == nil {
		vm = G.NewTapeMachine(m.g)
		defer vm.Close()
	} else {
		defer vm.Reset()
	}
	if err := vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "forward pass")
	}

	out, ok := m.output.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("unexpected output value %T", m.output.Value())
	}
	result := out.Clone().(*tensor.Dense)
	if m.cache == CacheModeHost {
		m.last, m.result = input, result.Clone().(*tensor.Dense)
	}
	return result, nil
}

// Close releases the machine.
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vm != nil {
		err := m.vm.Close()
		m.vm = nil
		return err
	}
	return nil
}
