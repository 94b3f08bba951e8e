package transfer

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-zoo/models/model"
	"github.com/nvr-ai/go-zoo/nn"
	"github.com/nvr-ai/go-zoo/weights"
	"github.com/nvr-ai/go-zoo/zoo"
)

const embedding = 4

var substitution = model.Substitution{EmbeddingSize: embedding, FeatureLayer: "fc2", PredictionLayer: "predictions"}

// fakeModel serves a small pretrained network in place of a zoo architecture.
type fakeModel struct {
	available map[zoo.PretrainedType]bool
	err       error
	net       *nn.Network
	calls     int
}

func (f *fakeModel) Name() string { return "tiny" }

func (f *fakeModel) PretrainedAvailable(t zoo.PretrainedType) bool { return f.available[t] }

func (f *fakeModel) InitPretrained(ctx context.Context, src zoo.WeightSource, t zoo.PretrainedType) (*nn.Network, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.net, nil
}

type nopSource struct{}

func (nopSource) Resolve(ctx context.Context, name string) (string, error) { return name, nil }

func tinyNetwork(t *testing.T, classes int, seed int64) *nn.Network {
	t.Helper()
	cfg, err := nn.NewGraphBuilder("tiny", []int{1, 4, 4}).
		AddConv2D("conv1", nn.InputName, 2).
		AddMaxPool("pool1", "conv1").
		AddDense("fc1", "pool1", embedding).
		AddDense("fc2", "fc1", embedding).
		AddOutput("predictions", "fc2", classes).
		SetOutputs("predictions").
		Build()
	require.NoError(t, err)
	return nn.Init(cfg, seed)
}

func newRequest(t *testing.T, m *fakeModel) (Request, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return Request{
		Model:        m,
		Default:      tinyNetwork(t, 10, 1),
		Seed:         42,
		NumLabels:    10,
		Pretrained:   zoo.PretrainedImageNet,
		Substitution: substitution,
		Weights:      nopSource{},
		Log:          logger.WithField("component", "transfer"),
	}, hook
}

func TestAttemptToLoadWeightsNone(t *testing.T) {
	m := &fakeModel{}
	req, _ := newRequest(t, m)
	req.Pretrained = zoo.PretrainedNone

	net, err := AttemptToLoadWeights(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, req.Default, net)
	assert.Zero(t, m.calls, "no weights should be requested")
}

func TestAttemptToLoadWeightsFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
	}{
		{name: "not published", model: &fakeModel{}},
		{
			name: "file missing",
			model: &fakeModel{
				available: map[zoo.PretrainedType]bool{zoo.PretrainedImageNet: true},
				err:       errors.Wrap(weights.ErrNotFound, "vgg16_imagenet.safetensors"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, hook := newRequest(t, tt.model)
			net, err := AttemptToLoadWeights(context.Background(), req)
			require.NoError(t, err)
			assert.Same(t, req.Default, net)

			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
		})
	}
}

func TestAttemptToLoadWeightsPropagatesErrors(t *testing.T) {
	m := &fakeModel{
		available: map[zoo.PretrainedType]bool{zoo.PretrainedImageNet: true},
		err:       errors.Wrap(weights.ErrCorrupt, "bad header"),
	}
	req, _ := newRequest(t, m)

	_, err := AttemptToLoadWeights(context.Background(), req)
	assert.True(t, errors.Is(err, weights.ErrCorrupt), "unexpected error: %v", err)
}

func TestAttemptToLoadWeightsFilterMode(t *testing.T) {
	pretrained := tinyNetwork(t, 3, 7)
	m := &fakeModel{available: map[zoo.PretrainedType]bool{zoo.PretrainedImageNet: true}, net: pretrained}
	req, _ := newRequest(t, m)
	req.FilterMode = true

	net, err := AttemptToLoadWeights(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, pretrained, net, "filter mode should return the pretrained network untouched")
}

func TestAttemptToLoadWeightsReplacesPrediction(t *testing.T) {
	pretrained := tinyNetwork(t, 3, 7)
	m := &fakeModel{available: map[zoo.PretrainedType]bool{zoo.PretrainedImageNet: true}, net: pretrained}
	req, _ := newRequest(t, m)

	net, err := AttemptToLoadWeights(context.Background(), req)
	require.NoError(t, err)

	out, err := net.Config().OutputLayer()
	require.NoError(t, err)
	assert.Equal(t, "predictions", out.Name)
	assert.Equal(t, 10, out.NOut)
	assert.Equal(t, embedding, out.NIn)
	assert.False(t, out.Frozen)
	assert.Equal(t, int64(42), net.Seed())

	for _, name := range []string{"conv1", "fc1", "fc2"} {
		l, ok := net.Config().Layer(name)
		require.True(t, ok)
		assert.True(t, l.Frozen, "%s should be frozen", name)
		assert.True(t, net.Inherited(name), "%s should keep pretrained weights", name)

		want, err := pretrained.Params(name)
		require.NoError(t, err)
		got, err := net.Params(name)
		require.NoError(t, err)
		assert.Same(t, want, got)
	}
	assert.False(t, net.Inherited("predictions"))
}

func TestFineTuneValidation(t *testing.T) {
	pretrained := tinyNetwork(t, 3, 7)

	_, err := FineTune(pretrained, model.Substitution{EmbeddingSize: embedding, FeatureLayer: "fc7", PredictionLayer: "fc8"}, 10, 1)
	assert.True(t, errors.Is(err, nn.ErrLayerNotFound), "unexpected error: %v", err)

	_, err = FineTune(pretrained, model.Substitution{EmbeddingSize: 4096, FeatureLayer: "fc2", PredictionLayer: "predictions"}, 10, 1)
	assert.Error(t, err, "embedding size must match the feature layer")

	_, err = FineTune(pretrained, substitution, 0, 1)
	assert.Error(t, err)

	_, err = FineTune(pretrained, model.Substitution{}, 10, 1)
	assert.Error(t, err)
}
