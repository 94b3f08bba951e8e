// Package nn - Computation graph configuration, parameters and execution for zoo networks.
package nn

import (
	"fmt"
)

// InputName is the vertex name of the graph input.
const InputName = "input"

// LayerKind identifies the operation performed by a layer.
type LayerKind string

const (
	// KindConv2D is a 3x3, stride 1, same-padded convolution.
	KindConv2D LayerKind = "conv2d"
	// KindMaxPool is a 2x2, stride 2 max pooling.
	KindMaxPool LayerKind = "maxpool"
	// KindDense is a fully connected layer.
	KindDense LayerKind = "dense"
	// KindOutput is a fully connected layer with a loss attached.
	KindOutput LayerKind = "output"
)

// Activation is the non-linearity applied to a layer's output.
type Activation string

const (
	// ActivationIdentity leaves the pre-activation untouched.
	ActivationIdentity Activation = "identity"
	// ActivationReLU is the rectified linear unit.
	ActivationReLU Activation = "relu"
	// ActivationSoftmax normalises the output into a probability distribution.
	ActivationSoftmax Activation = "softmax"
)

// LossFunction is the loss attached to an output layer.
type LossFunction string

const (
	// LossMCXENT is multi-class cross entropy.
	LossMCXENT LossFunction = "mcxent"
)

// CacheMode controls activation caching between forward passes.
type CacheMode string

const (
	// CacheModeNone disables activation caching.
	CacheModeNone CacheMode = "NONE"
	// CacheModeHost caches activations in host memory.
	CacheModeHost CacheMode = "HOST"
)

// WorkspaceMode controls whether execution buffers are reused across runs.
type WorkspaceMode string

const (
	// WorkspaceModeEnabled reuses one execution machine across runs.
	WorkspaceModeEnabled WorkspaceMode = "ENABLED"
	// WorkspaceModeNone allocates a fresh execution machine for every run.
	WorkspaceModeNone WorkspaceMode = "NONE"
)

// ParseWorkspaceMode parses a workspace mode name.
func ParseWorkspaceMode(s string) (WorkspaceMode, error) {
	switch WorkspaceMode(s) {
	case WorkspaceModeEnabled, WorkspaceModeNone:
		return WorkspaceMode(s), nil
	default:
		return "", fmt.Errorf("unsupported workspace mode: %q", s)
	}
}

// Layer is a single vertex of a computation graph.
type Layer struct {
	// Name is the unique vertex name.
	Name string `json:"name" yaml:"name"`
	// Kind is the operation performed by the layer.
	Kind LayerKind `json:"kind" yaml:"kind"`
	// Input is the name of the vertex feeding this layer.
	Input string `json:"input" yaml:"input"`
	// NIn is the number of input channels or features. Inferred when zero.
	NIn int `json:"n_in" yaml:"n_in"`
	// NOut is the number of output channels or features.
	NOut int `json:"n_out" yaml:"n_out"`
	// Activation is the layer non-linearity.
	Activation Activation `json:"activation,omitempty" yaml:"activation,omitempty"`
	// Loss is set on output layers only.
	Loss LossFunction `json:"loss,omitempty" yaml:"loss,omitempty"`
	// Frozen layers keep their parameters fixed during fine-tuning.
	Frozen bool `json:"frozen" yaml:"frozen"`
	// InShape is the activation shape entering the layer, excluding the batch axis.
	InShape []int `json:"in_shape" yaml:"in_shape"`
	// OutShape is the activation shape leaving the layer, excluding the batch axis.
	OutShape []int `json:"out_shape" yaml:"out_shape"`
}

// HasParams reports whether the layer owns trainable parameters.
func (l Layer) HasParams() bool {
	switch l.Kind {
	case KindConv2D, KindDense, KindOutput:
		return true
	default:
		return false
	}
}

// ParamShapes returns the weight and bias shapes of the layer.
//
// Convolution weights are laid out (out, in, kh, kw); dense weights (in, out).
func (l Layer) ParamShapes() (weight, bias []int) {
	switch l.Kind {
	case KindConv2D:
		return []int{l.NOut, l.NIn, 3, 3}, []int{l.NOut}
	case KindDense, KindOutput:
		return []int{l.NIn, l.NOut}, []int{l.NOut}
	default:
		return nil, nil
	}
}

// NumParams returns the number of scalar parameters held by the layer.
func (l Layer) NumParams() int {
	w, b := l.ParamShapes()
	if w == nil {
		return 0
	}
	return volume(w) + volume(b)
}

// fanIn and fanOut drive weight initialisation.
func (l Layer) fans() (fanIn, fanOut int) {
	switch l.Kind {
	case KindConv2D:
		return l.NIn * 9, l.NOut * 9
	default:
		return l.NIn, l.NOut
	}
}

func (l Layer) clone() Layer {
	c := l
	c.InShape = append([]int(nil), l.InShape...)
	c.OutShape = append([]int(nil), l.OutShape...)
	return c
}

func volume(shape []int) int {
	v := 1
	for _, d := range shape {
		v *= d
	}
	return v
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
