// Package transfer - Loads pretrained weights into zoo networks and replaces their prediction layer.
package transfer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-zoo/models/model"
	"github.com/nvr-ai/go-zoo/nn"
	"github.com/nvr-ai/go-zoo/weights"
	"github.com/nvr-ai/go-zoo/zoo"
)

// Pretrainer produces networks carrying published weight sets.
// *zoo.Model implements it.
type Pretrainer interface {
	Name() string
	PretrainedAvailable(t zoo.PretrainedType) bool
	InitPretrained(ctx context.Context, src zoo.WeightSource, t zoo.PretrainedType) (*nn.Network, error)
}

// Request carries everything AttemptToLoadWeights needs.
type Request struct {
	// Model is the zoo model the default network was built from.
	Model Pretrainer
	// Default is the randomly initialised network returned when no weights load.
	Default *nn.Network
	// Seed initialises the replacement output layer.
	Seed int64
	// NumLabels is the class count of the replacement output layer.
	NumLabels int
	// FilterMode returns the pretrained network unmodified, for feature extraction.
	FilterMode bool
	// Pretrained is the weight set to load.
	Pretrained zoo.PretrainedType
	// Substitution names the layer pair to replace.
	Substitution model.Substitution
	// Weights resolves weight files.
	Weights zoo.WeightSource
	// Log receives fallback warnings. Nil uses the standard logger.
	Log *logrus.Entry
}

// AttemptToLoadWeights returns the network a zoo adapter hands to its caller.
//
// With no pretrained type, or when the weight set is not published for the
// model or cannot be found, the default network is returned and a warning is
// logged. Any other load failure is returned. In filter mode the pretrained
// network is returned as is; otherwise its prediction layer is replaced by a
// fresh softmax output of NumLabels classes on top of the frozen feature layers.
//
// Arguments:
//   - ctx: Context for weight resolution, which may download.
//   - req: The request.
//
// Returns:
//   - *nn.Network: The network to use.
//   - error: An error if pretrained weights exist but cannot be used.
func AttemptToLoadWeights(ctx context.Context, req Request) (*nn.Network, error) {
	log := req.Log
	if log == nil {
		log = logrus.StandardLogger().WithField("component", "transfer")
	}

	if req.Pretrained == zoo.PretrainedNone || req.Pretrained == "" {
		return req.Default, nil
	}
	log = log.WithFields(logrus.Fields{"model": req.Model.Name(), "pretrained": req.Pretrained})

	if !req.Model.PretrainedAvailable(req.Pretrained) {
		log.Warn("pretrained weights are not published for this model, using random initialisation")
		return req.Default, nil
	}
	if req.Weights == nil {
		return nil, errors.New("no weight source configured")
	}

	pretrained, err := req.Model.InitPretrained(ctx, req.Weights, req.Pretrained)
	switch {
	case errors.Is(err, weights.ErrNotFound), errors.Is(err, zoo.ErrPretrainedUnavailable):
		log.WithError(err).Warn("could not find pretrained weights, using random initialisation")
		return req.Default, nil
	case err != nil:
		return nil, err
	}

	if req.FilterMode {
		log.Debug("returning pretrained network as feature extractor")
		return pretrained, nil
	}

	net, err := FineTune(pretrained, req.Substitution, req.NumLabels, req.Seed)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"feature_layer":    req.Substitution.FeatureLayer,
		"prediction_layer": req.Substitution.PredictionLayer,
		"num_labels":       req.NumLabels,
	}).Debug("replaced prediction layer")
	return net, nil
}

// FineTune freezes pretrained up to sub.FeatureLayer and replaces
// sub.PredictionLayer with a softmax output of numLabels classes.
func FineTune(pretrained *nn.Network, sub model.Substitution, numLabels int, seed int64) (*nn.Network, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if numLabels <= 0 {
		return nil, errors.Errorf("num labels must be positive, got %d", numLabels)
	}

	cfg := pretrained.Config()
	feature, ok := cfg.Layer(sub.FeatureLayer)
	if !ok {
		return nil, errors.Wrapf(nn.ErrLayerNotFound, "feature layer %q in %s", sub.FeatureLayer, cfg.Name)
	}
	if feature.NOut != sub.EmbeddingSize {
		return nil, errors.Errorf("feature layer %q has %d outputs, expected embedding size %d",
			sub.FeatureLayer, feature.NOut, sub.EmbeddingSize)
	}

	tuned, err := nn.FromConfig(cfg).
		SetFeatureExtractor(sub.FeatureLayer).
		RemoveVertexKeepConnections(sub.PredictionLayer).
		AddLayer(nn.Layer{
			Name:       sub.PredictionLayer,
			Kind:       nn.KindOutput,
			Input:      sub.FeatureLayer,
			NIn:        sub.EmbeddingSize,
			NOut:       numLabels,
			Activation: nn.ActivationSoftmax,
			Loss:       nn.LossMCXENT,
		}).
		SetOutputs(sub.PredictionLayer).
		Build()
	if err != nil {
		return nil, errors.Wrap(err, "replace prediction layer")
	}
	return nn.Derive(tuned, pretrained, seed, sub.PredictionLayer), nil
}
