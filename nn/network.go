package nn

import (
	"hash/fnv"
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// ErrShapeMismatch is returned when a parameter does not fit its layer.
var ErrShapeMismatch = errors.New("parameter shape mismatch")

// Params holds the weight and bias of one layer.
type Params struct {
	W *tensor.Dense
	B *tensor.Dense
}

// Network is a configured graph plus its parameters.
//
// Parameters are materialised on first access from a seed derived from the
// network seed and the layer name, so identical (config, seed) pairs always
// produce identical weights regardless of access order. Parameters installed
// with SetParams, or inherited from a parent network, take precedence.
type Network struct {
	config *Config
	seed   int64

	mu     sync.Mutex
	params map[string]*Params
	parent *Network
	fresh  map[string]bool
}

// Init creates a randomly initialised network for cfg.
//
// Arguments:
//   - cfg: A configuration produced by GraphBuilder.Build.
//   - seed: The seed all layer initialisations derive from.
//
// Returns:
//   - *Network: The network. No parameter memory is allocated until used.
func Init(cfg *Config, seed int64) *Network {
	return &Network{
		config: cfg,
		seed:   seed,
		params: make(map[string]*Params),
	}
}

// Derive creates a network for cfg that inherits the parameters of parent for
// every layer whose name and parameter shapes match. Layers listed in reinit,
// or absent from parent, or whose shapes changed, are initialised from seed.
func Derive(cfg *Config, parent *Network, seed int64, reinit ...string) *Network {
	n := Init(cfg, seed)
	n.parent = parent
	n.fresh = make(map[string]bool)
	for _, name := range reinit {
		n.fresh[name] = true
	}
	for _, l := range cfg.Layers {
		if !l.HasParams() {
			continue
		}
		pl, ok := parent.config.Layer(l.Name)
		if !ok {
			n.fresh[l.Name] = true
			continue
		}
		w, b := l.ParamShapes()
		pw, pb := pl.ParamShapes()
		if !sameShape(w, pw) || !sameShape(b, pb) {
			n.fresh[l.Name] = true
		}
	}
	return n
}

// Config returns the network configuration.
func (n *Network) Config() *Config {
	return n.config
}

// Seed returns the seed used for fresh initialisation.
func (n *Network) Seed() int64 {
	return n.seed
}

// Inherited reports whether the named layer takes its parameters from a parent network.
func (n *Network) Inherited(layer string) bool {
	return n.parent != nil && !n.fresh[layer]
}

// Params returns the parameters of the named layer, materialising them if needed.
func (n *Network) Params(layer string) (*Params, error) {
	l, ok := n.config.Layer(layer)
	if !ok {
		return nil, errors.Wrapf(ErrLayerNotFound, "params of %q", layer)
	}
	if !l.HasParams() {
		return nil, errors.Errorf("layer %q has no parameters", layer)
	}

	n.mu.Lock()
	p, ok := n.params[layer]
	n.mu.Unlock()
	if ok {
		return p, nil
	}

	if n.Inherited(layer) {
		pp, err := n.parent.Params(layer)
		if err != nil {
			return nil, err
		}
		p = pp
	} else {
		p = initParams(l, n.seed)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.params[layer]; ok {
		return existing, nil
	}
	n.params[layer] = p
	return p, nil
}

// SetParams installs parameters for the named layer.
//
// Returns:
//   - error: ErrLayerNotFound or ErrShapeMismatch.
func (n *Network) SetParams(layer string, p *Params) error {
	l, ok := n.config.Layer(layer)
	if !ok || !l.HasParams() {
		return errors.Wrapf(ErrLayerNotFound, "set params of %q", layer)
	}
	w, b := l.ParamShapes()
	if p == nil || p.W == nil || p.B == nil {
		return errors.Wrapf(ErrShapeMismatch, "layer %q: missing weight or bias", layer)
	}
	if !sameShape(w, p.W.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "layer %q weight: want %v, got %v", layer, w, p.W.Shape())
	}
	if !sameShape(b, p.B.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "layer %q bias: want %v, got %v", layer, b, p.B.Shape())
	}

	n.mu.Lock()
	n.params[layer] = p
	n.mu.Unlock()
	return nil
}

// initParams draws weights from a zero-mean normal scaled for the layer's
// activation (He for ReLU, Xavier otherwise). Biases start at zero.
func initParams(l Layer, seed int64) *Params {
	wShape, bShape := l.ParamShapes()
	fanIn, fanOut := l.fans()

	var sigma float32
	if l.Activation == ActivationReLU {
		sigma = math32.Sqrt(2 / float32(fanIn))
	} else {
		sigma = math32.Sqrt(2 / float32(fanIn+fanOut))
	}

	dist := distuv.Normal{
		Mu:    0,
		Sigma: float64(sigma),
		Src:   rand.NewSource(layerSeed(seed, l.Name)),
	}
	w := make([]float32, volume(wShape))
	for i := range w {
		w[i] = float32(dist.Rand())
	}

	return &Params{
		W: tensor.New(tensor.WithShape(wShape...), tensor.WithBacking(w)),
		B: tensor.New(tensor.WithShape(bShape...), tensor.Of(tensor.Float32)),
	}
}

func layerSeed(seed int64, name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return uint64(seed) ^ h.Sum64()
}
