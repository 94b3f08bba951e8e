// Package vgg - VGG16/VGG19 adapter with ImageNet and VGGFace transfer learning.
package vgg

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-zoo/models/model"
	"github.com/nvr-ai/go-zoo/nn"
	"github.com/nvr-ai/go-zoo/preferences"
	"github.com/nvr-ai/go-zoo/transfer"
	"github.com/nvr-ai/go-zoo/weights"
	"github.com/nvr-ai/go-zoo/zoo"
)

// ErrUnsupportedVariant is returned for a Variant outside {VGG16, VGG19}.
var ErrUnsupportedVariant = errors.New("unsupported VGG variant")

// Variant selects the VGG depth.
type Variant string

const (
	// VGG16 has 13 convolutions.
	VGG16 Variant = "VGG16"
	// VGG19 has 16 convolutions.
	VGG19 Variant = "VGG19"
)

// ParseVariant parses a variant name, case-insensitively.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToUpper(s)); v {
	case VGG16, VGG19:
		return v, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedVariant, "%q", s)
	}
}

// SubstitutionFor returns the layer pair replaced when the weight set t of
// variant v is adapted to a new label count.
//
// The VGGFace weights for VGG16 were published with an fc6/fc7/fc8 head,
// while ImageNet-style weights use fc1/fc2/predictions. VGG19 is only
// distributed with the latter naming.
//
// Returns:
//   - model.Substitution: The substitution.
//   - error: ErrUnsupportedVariant for an unknown variant.
func SubstitutionFor(v Variant, t zoo.PretrainedType) (model.Substitution, error) {
	switch v {
	case VGG16:
		if t == zoo.PretrainedVGGFace {
			return model.Substitution{EmbeddingSize: zoo.VGGEmbeddingSize, FeatureLayer: "fc7", PredictionLayer: "fc8"}, nil
		}
		return model.Substitution{EmbeddingSize: zoo.VGGEmbeddingSize, FeatureLayer: "fc2", PredictionLayer: "predictions"}, nil
	case VGG19:
		return model.Substitution{EmbeddingSize: zoo.VGGEmbeddingSize, FeatureLayer: "fc2", PredictionLayer: "predictions"}, nil
	default:
		return model.Substitution{}, errors.Wrapf(ErrUnsupportedVariant, "%q", v)
	}
}

// Option configures a VGG adapter.
type Option func(*VGG)

// WithVariant selects the initial variant.
func WithVariant(v Variant) Option {
	return func(m *VGG) { m.variant = v }
}

// WithPretrainedType selects the initial weight set.
func WithPretrainedType(t zoo.PretrainedType) Option {
	return func(m *VGG) { m.pretrained = t }
}

// WithWeights sets the source pretrained weight files are resolved from.
func WithWeights(src zoo.WeightSource) Option {
	return func(m *VGG) { m.weights = src }
}

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(m *VGG) { m.log = log }
}

// WithWorkspaceMode overrides the source of the workspace mode preference.
func WithWorkspaceMode(fn func() nn.WorkspaceMode) Option {
	return func(m *VGG) { m.workspaceMode = fn }
}

// VGG adapts the zoo's VGG16 and VGG19 architectures.
//
// The variant and the pretrained type are independent selectors; the layer
// substitution is derived from both whenever it is needed. A VGG value is not
// safe for concurrent mutation.
type VGG struct {
	variant       Variant
	pretrained    zoo.PretrainedType
	weights       zoo.WeightSource
	log           *logrus.Entry
	workspaceMode func() nn.WorkspaceMode
}

var _ model.Adapter = (*VGG)(nil)

// New creates an adapter. Defaults: VGG16, ImageNet weights from the
// preference weight store, workspace mode from preferences.
//
// @example
//
//	m := vgg.New(vgg.WithVariant(vgg.VGG19))
//	net, err := m.Build(ctx, model.BuildArgs{NumLabels: 10, Seed: 42, Shape: []int{3, 224, 224}})
func New(opts ...Option) *VGG {
	m := &VGG{
		variant:       VGG16,
		pretrained:    zoo.PretrainedImageNet,
		workspaceMode: preferences.WorkspaceMode,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logrus.StandardLogger().WithField("component", "vgg")
	}
	if m.weights == nil {
		m.weights = weights.NewStore(preferences.WeightsDir(), preferences.WeightsURL(), m.log)
	}
	return m
}

// Name returns the adapter name of the selected variant.
func (m *VGG) Name() model.Name {
	if m.variant == VGG19 {
		return model.ModelNameVGG19
	}
	return model.ModelNameVGG16
}

// Family returns the VGG family.
func (m *VGG) Family() model.Family {
	return model.ModelFamilyVGG
}

// Variant returns the selected variant.
func (m *VGG) Variant() Variant {
	return m.variant
}

// SetVariant selects the variant. The previously selected pretrained type
// stays in effect for the new variant.
func (m *VGG) SetVariant(v Variant) {
	m.variant = v
}

// PretrainedType returns the selected weight set.
func (m *VGG) PretrainedType() zoo.PretrainedType {
	return m.pretrained
}

// SetPretrainedType selects the weight set.
func (m *VGG) SetPretrainedType(t zoo.PretrainedType) {
	m.pretrained = t
}

// Substitution returns the layer pair replaced for the current selection.
func (m *VGG) Substitution() (model.Substitution, error) {
	return SubstitutionFor(m.variant, m.pretrained)
}

// zooModel returns the zoo builder of the selected variant.
func (m *VGG) zooModel(opts ...zoo.Option) (*zoo.Model, error) {
	switch m.variant {
	case VGG16:
		return zoo.VGG16(opts...), nil
	case VGG19:
		return zoo.VGG19(opts...), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedVariant, "%q", m.variant)
	}
}

// Build returns a network of the selected variant sized for args.NumLabels.
//
// A fresh zoo model is configured with the given shape and class count and
// initialised as the fallback network. The pretrained weights of the selected
// type are then loaded and their prediction layer replaced, as described by
// transfer.AttemptToLoadWeights.
//
// Arguments:
//   - ctx: Context for weight resolution.
//   - args: Label count, seed, input shape and filter mode.
//
// Returns:
//   - *nn.Network: The network.
//   - error: Any zoo or weight loading error.
func (m *VGG) Build(ctx context.Context, args model.BuildArgs) (*nn.Network, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	sub, err := m.Substitution()
	if err != nil {
		return nil, err
	}

	workspace := nn.WorkspaceModeEnabled
	if m.workspaceMode != nil {
		workspace = m.workspaceMode()
	}
	net, err := m.zooModel(
		zoo.WithCacheMode(nn.CacheModeNone),
		zoo.WithWorkspaceMode(workspace),
		zoo.WithInputShape(args.Shape),
		zoo.WithNumClasses(args.NumLabels),
		zoo.WithSeed(args.Seed),
	)
	if err != nil {
		return nil, err
	}

	defaultNet, err := net.Init()
	if err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"variant":     m.variant,
		"pretrained":  m.pretrained,
		"num_labels":  args.NumLabels,
		"shape":       fmt.Sprint(net.InputShape()),
		"filter_mode": args.FilterMode,
	}).Debug("building network")

	return transfer.AttemptToLoadWeights(ctx, transfer.Request{
		Model:        net,
		Default:      defaultNet,
		Seed:         args.Seed,
		NumLabels:    args.NumLabels,
		FilterMode:   args.FilterMode,
		Pretrained:   m.pretrained,
		Substitution: sub,
		Weights:      m.weights,
		Log:          m.log,
	})
}

// Shape returns the default input shapes of the selected variant,
// independent of any build configuration.
func (m *VGG) Shape() ([][]int, error) {
	net, err := m.zooModel()
	if err != nil {
		return nil, err
	}
	return net.MetaData().InputShape, nil
}
