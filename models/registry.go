// Package models - registry for model adapters.
package models

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-zoo/models/model"
	"github.com/nvr-ai/go-zoo/models/vgg"
	"github.com/nvr-ai/go-zoo/preferences"
	"github.com/nvr-ai/go-zoo/weights"
	"github.com/nvr-ai/go-zoo/zoo"
)

// ErrUnsupportedModel is returned by NewModel for an unknown adapter name.
var ErrUnsupportedModel = errors.New("unsupported model name")

// Names lists every adapter NewModel can create.
var Names = []model.Name{model.ModelNameVGG16, model.ModelNameVGG19}

// NewModel creates a model adapter based on the specified name.
//
// Pretrained weights are resolved from args.WeightsDir and args.WeightsURL,
// falling back to the preference values when either is empty. An empty
// args.Pretrained selects ImageNet weights.
//
// Arguments:
//   - args: Configuration parameters specifying the adapter and its weight store.
//
// Returns:
//   - model.Adapter: The configured adapter.
//   - error: ErrUnsupportedModel for an unknown name.
//
// @example
//
//	m, err := models.NewModel(model.NewModelArgs{Name: model.ModelNameVGG19})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	net, err := m.Build(ctx, model.BuildArgs{NumLabels: 10, Seed: 42, Shape: []int{3, 224, 224}})
func NewModel(args model.NewModelArgs) (model.Adapter, error) {
	var variant vgg.Variant
	switch args.Name {
	case model.ModelNameVGG16:
		variant = vgg.VGG16
	case model.ModelNameVGG19:
		variant = vgg.VGG19
	default:
		return nil, errors.Wrapf(ErrUnsupportedModel, "%q", args.Name)
	}

	log := logrus.StandardLogger().WithFields(logrus.Fields{"component": "vgg", "model": args.Name})
	dir := args.WeightsDir
	if dir == "" {
		dir = preferences.WeightsDir()
	}
	url := args.WeightsURL
	if url == "" {
		url = preferences.WeightsURL()
	}
	pretrained := args.Pretrained
	if pretrained == "" {
		pretrained = zoo.PretrainedImageNet
	}

	return vgg.New(
		vgg.WithVariant(variant),
		vgg.WithPretrainedType(pretrained),
		vgg.WithWeights(weights.NewStore(dir, url, log)),
		vgg.WithLogger(log),
	), nil
}
