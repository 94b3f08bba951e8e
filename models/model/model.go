// Package model - Shared contract of the zoo model adapters.
package model

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-zoo/nn"
	"github.com/nvr-ai/go-zoo/zoo"
)

// Name is the unique identifier of an adapter.
type Name string

const (
	// ModelNameVGG16 is the name of the VGG16 adapter.
	ModelNameVGG16 Name = "vgg16"
	// ModelNameVGG19 is the name of the VGG19 adapter.
	ModelNameVGG19 Name = "vgg19"
)

// Family groups adapters sharing one zoo architecture.
type Family string

const (
	// ModelFamilyVGG is the VGG model family.
	ModelFamilyVGG Family = "vgg"
)

// Substitution names the final layer pair replaced when a pretrained network
// is adapted to a new label count.
type Substitution struct {
	// EmbeddingSize is the width of FeatureLayer and the input size of the new output layer.
	EmbeddingSize int `json:"embedding_size" yaml:"embedding_size"`
	// FeatureLayer is the last layer kept (and frozen) from the pretrained network.
	FeatureLayer string `json:"feature_layer" yaml:"feature_layer"`
	// PredictionLayer is the pretrained output layer that gets replaced.
	PredictionLayer string `json:"prediction_layer" yaml:"prediction_layer"`
}

// Validate checks that every field is set.
func (s Substitution) Validate() error {
	if s.EmbeddingSize <= 0 {
		return errors.Errorf("embedding size must be positive, got %d", s.EmbeddingSize)
	}
	if s.FeatureLayer == "" || s.PredictionLayer == "" {
		return errors.New("feature and prediction layer names are required")
	}
	if s.FeatureLayer == s.PredictionLayer {
		return errors.Errorf("feature and prediction layer must differ, both are %q", s.FeatureLayer)
	}
	return nil
}

// BuildArgs are the arguments of Adapter.Build.
type BuildArgs struct {
	// NumLabels is the class count of the built network's output layer.
	NumLabels int `json:"num_labels" yaml:"num_labels"`
	// Seed initialises every freshly created layer.
	Seed int64 `json:"seed" yaml:"seed"`
	// Shape is the (C, H, W) input shape, forwarded unmodified to the zoo.
	Shape []int `json:"shape" yaml:"shape"`
	// FilterMode requests the pretrained network as a feature extractor.
	FilterMode bool `json:"filter_mode" yaml:"filter_mode"`
}

// Validate checks the arguments that the zoo cannot check itself.
func (a BuildArgs) Validate() error {
	if a.NumLabels <= 0 {
		return errors.Errorf("num labels must be positive, got %d", a.NumLabels)
	}
	return nil
}

// Adapter exposes one zoo architecture with transfer-learning configuration.
type Adapter interface {
	// Name returns the adapter name.
	Name() Name
	// Family returns the adapter family.
	Family() Family
	// PretrainedType returns the weight set loaded by Build.
	PretrainedType() zoo.PretrainedType
	// SetPretrainedType selects the weight set loaded by Build.
	SetPretrainedType(t zoo.PretrainedType)
	// Substitution returns the layer pair replaced for the current selection.
	Substitution() (Substitution, error)
	// Build returns a network sized for args.NumLabels.
	Build(ctx context.Context, args BuildArgs) (*nn.Network, error)
	// Shape returns the input shapes the architecture accepts by default.
	Shape() ([][]int, error)
}

// NewModelArgs is the arguments for creating a new adapter.
type NewModelArgs struct {
	Name       Name               `json:"name" yaml:"name"`
	Pretrained zoo.PretrainedType `json:"pretrained" yaml:"pretrained"`
	WeightsDir string             `json:"weights_dir" yaml:"weights_dir"`
	WeightsURL string             `json:"weights_url" yaml:"weights_url"`
}
