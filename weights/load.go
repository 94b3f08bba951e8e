package weights

import (
	"io"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-zoo/nn"
)

// ErrMissingTensor is returned when a weight file lacks a layer parameter.
var ErrMissingTensor = errors.New("missing tensor")

// WeightKey and BiasKey name the stored parameters of a layer.
func WeightKey(layer string) string { return layer + ".weight" }

// BiasKey names the stored bias of a layer.
func BiasKey(layer string) string { return layer + ".bias" }

// Load installs the parameters of every parameterised layer of net from f.
//
// Tensors are decoded concurrently. Extra tensors in f are ignored.
//
// Returns:
//   - error: ErrMissingTensor, ErrCorrupt or nn.ErrShapeMismatch wrapped with the layer name.
func Load(net *nn.Network, f *File) error {
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())

	for _, l := range net.Config().Layers {
		if !l.HasParams() {
			continue
		}
		l := l
		g.Go(func() error {
			w, err := f.Tensor(WeightKey(l.Name))
			if err != nil {
				return errors.Wrapf(err, "layer %q", l.Name)
			}
			b, err := f.Tensor(BiasKey(l.Name))
			if err != nil {
				return errors.Wrapf(err, "layer %q", l.Name)
			}
			return net.SetParams(l.Name, &nn.Params{W: w, B: b})
		})
	}
	return g.Wait()
}

// LoadFile opens path and loads it into net.
func LoadFile(net *nn.Network, path string) error {
	f, err := Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Load(net, f)
}

// Save writes every parameter of net to w, materialising lazily initialised layers.
func Save(w io.Writer, net *nn.Network, dtype DType) error {
	cfg := net.Config()
	tensors := make(map[string]*tensor.Dense)
	for _, l := range cfg.Layers {
		if !l.HasParams() {
			continue
		}
		p, err := net.Params(l.Name)
		if err != nil {
			return err
		}
		tensors[WeightKey(l.Name)] = p.W
		tensors[BiasKey(l.Name)] = p.B
	}
	meta := map[string]string{"architecture": cfg.Name}
	return Write(w, tensors, meta, dtype)
}
