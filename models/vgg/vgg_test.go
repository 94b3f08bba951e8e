package vgg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
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

var (
	imagenetHead = model.Substitution{EmbeddingSize: 4096, FeatureLayer: "fc2", PredictionLayer: "predictions"}
	faceHead     = model.Substitution{EmbeddingSize: 4096, FeatureLayer: "fc7", PredictionLayer: "fc8"}
)

// newTestVGG returns an adapter backed by an empty weight store, so every
// pretrained build falls back to random initialisation.
func newTestVGG(t *testing.T, opts ...Option) (*VGG, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	log := logger.WithField("component", "vgg")

	base := []Option{
		WithLogger(log),
		WithWeights(weights.NewStore(t.TempDir(), "", log)),
		WithWorkspaceMode(func() nn.WorkspaceMode { return nn.WorkspaceModeEnabled }),
	}
	return New(append(base, opts...)...), hook
}

func TestSubstitutionTable(t *testing.T) {
	for _, pt := range zoo.PretrainedTypes {
		t.Run(string(pt), func(t *testing.T) {
			want16 := imagenetHead
			if pt == zoo.PretrainedVGGFace {
				want16 = faceHead
			}

			got, err := SubstitutionFor(VGG16, pt)
			require.NoError(t, err)
			assert.Equal(t, want16, got, "VGG16 substitution")

			got, err = SubstitutionFor(VGG19, pt)
			require.NoError(t, err)
			assert.Equal(t, imagenetHead, got, "VGG19 ignores the pretrained type")
		})
	}
}

func TestSubstitutionUnknownVariant(t *testing.T) {
	_, err := SubstitutionFor(Variant("VGG11"), zoo.PretrainedImageNet)
	assert.True(t, errors.Is(err, ErrUnsupportedVariant))
}

func TestDefaults(t *testing.T) {
	m, _ := newTestVGG(t)

	assert.Equal(t, VGG16, m.Variant())
	assert.Equal(t, zoo.PretrainedImageNet, m.PretrainedType())
	assert.Equal(t, model.ModelNameVGG16, m.Name())
	assert.Equal(t, model.ModelFamilyVGG, m.Family())

	sub, err := m.Substitution()
	require.NoError(t, err)
	assert.Equal(t, imagenetHead, sub)
}

func TestSetterOrder(t *testing.T) {
	m, _ := newTestVGG(t)

	m.SetPretrainedType(zoo.PretrainedVGGFace)
	sub, err := m.Substitution()
	require.NoError(t, err)
	assert.Equal(t, faceHead, sub)

	m.SetVariant(VGG19)
	sub, err = m.Substitution()
	require.NoError(t, err)
	assert.Equal(t, imagenetHead, sub, "VGG19 uses the ImageNet head")
	assert.Equal(t, zoo.PretrainedVGGFace, m.PretrainedType(), "pretrained type survives variant changes")
	assert.Equal(t, model.ModelNameVGG19, m.Name())

	m.SetVariant(VGG16)
	sub, err = m.Substitution()
	require.NoError(t, err)
	assert.Equal(t, faceHead, sub, "switching back re-applies the face head")

	// Setting the variant first gives the same result.
	other, _ := newTestVGG(t, WithVariant(VGG16))
	other.SetVariant(VGG19)
	other.SetVariant(VGG16)
	other.SetPretrainedType(zoo.PretrainedVGGFace)
	got, err := other.Substitution()
	require.NoError(t, err)
	assert.Equal(t, sub, got)
}

func TestUnknownVariantFailsLoudly(t *testing.T) {
	m, _ := newTestVGG(t)
	m.SetVariant(Variant("VGG11"))

	_, err := m.Substitution()
	assert.True(t, errors.Is(err, ErrUnsupportedVariant))

	_, err = m.Shape()
	assert.True(t, errors.Is(err, ErrUnsupportedVariant))

	_, err = m.Build(context.Background(), model.BuildArgs{NumLabels: 10, Seed: 42, Shape: []int{3, 224, 224}})
	assert.True(t, errors.Is(err, ErrUnsupportedVariant))
}

func TestParseVariant(t *testing.T) {
	v, err := ParseVariant("vgg19")
	require.NoError(t, err)
	assert.Equal(t, VGG19, v)

	_, err = ParseVariant("resnet50")
	assert.True(t, errors.Is(err, ErrUnsupportedVariant))
}

func TestShape(t *testing.T) {
	for _, v := range []Variant{VGG16, VGG19} {
		t.Run(string(v), func(t *testing.T) {
			m, _ := newTestVGG(t, WithVariant(v))

			before, err := m.Shape()
			require.NoError(t, err)
			require.NotEmpty(t, before)
			for _, row := range before {
				assert.NotEmpty(t, row)
			}
			assert.Equal(t, []int{3, 224, 224}, before[0])

			_, err = m.Build(context.Background(), model.BuildArgs{NumLabels: 3, Seed: 1, Shape: []int{3, 64, 64}})
			require.NoError(t, err)

			after, err := m.Shape()
			require.NoError(t, err)
			assert.Equal(t, before, after, "shape must not depend on previous builds")
		})
	}
}

func TestBuildSizesOutputLayer(t *testing.T) {
	for _, v := range []Variant{VGG16, VGG19} {
		t.Run(string(v), func(t *testing.T) {
			m, hook := newTestVGG(t, WithVariant(v))

			net, err := m.Build(context.Background(), model.BuildArgs{NumLabels: 10, Seed: 42, Shape: []int{3, 224, 224}})
			require.NoError(t, err)

			cfg := net.Config()
			out, err := cfg.OutputLayer()
			require.NoError(t, err)
			assert.Equal(t, 10, out.NOut)
			assert.Equal(t, 4096, out.NIn)
			assert.Equal(t, []int{3, 224, 224}, cfg.InputShape)
			assert.Equal(t, nn.CacheModeNone, cfg.CacheMode)
			assert.Equal(t, int64(42), net.Seed())

			var warned bool
			for _, e := range hook.AllEntries() {
				warned = warned || e.Level == logrus.WarnLevel
			}
			assert.True(t, warned, "missing ImageNet weights should be reported")
		})
	}
}

func TestNumLabelsOnlyChangesOutputLayer(t *testing.T) {
	m, _ := newTestVGG(t)
	args := model.BuildArgs{NumLabels: 10, Seed: 42, Shape: []int{3, 224, 224}}

	a, err := m.Build(context.Background(), args)
	require.NoError(t, err)
	args.NumLabels = 7
	b, err := m.Build(context.Background(), args)
	require.NoError(t, err)

	la, lb := a.Config().Layers, b.Config().Layers
	require.Equal(t, len(la), len(lb))
	if diff := cmp.Diff(la[:len(la)-1], lb[:len(lb)-1]); diff != "" {
		t.Errorf("feature layers differ (-10 labels +7 labels):\n%s", diff)
	}
	assert.Equal(t, 10, la[len(la)-1].NOut)
	assert.Equal(t, 7, lb[len(lb)-1].NOut)

	// Identical seeds produce identical weights in shared layers.
	pa, err := a.Params("block1_conv1")
	require.NoError(t, err)
	pb, err := b.Params("block1_conv1")
	require.NoError(t, err)
	assert.Equal(t, pa.W.Data(), pb.W.Data())
}

func TestBuildUsesWorkspacePreference(t *testing.T) {
	reads := 0
	m, _ := newTestVGG(t, WithWorkspaceMode(func() nn.WorkspaceMode {
		reads++
		return nn.WorkspaceModeNone
	}))

	net, err := m.Build(context.Background(), model.BuildArgs{NumLabels: 2, Seed: 1, Shape: []int{3, 32, 32}})
	require.NoError(t, err)
	assert.Equal(t, nn.WorkspaceModeNone, net.Config().WorkspaceMode)
	assert.Equal(t, 1, reads, "preference is read once per build")
}

func TestBuildWithoutPretrainedWeights(t *testing.T) {
	m, hook := newTestVGG(t, WithPretrainedType(zoo.PretrainedNone))

	net, err := m.Build(context.Background(), model.BuildArgs{NumLabels: 4, Seed: 5, Shape: []int{3, 32, 32}, FilterMode: true})
	require.NoError(t, err)
	out, err := net.Config().OutputLayer()
	require.NoError(t, err)
	assert.Equal(t, 4, out.NOut)
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level, "no warning expected without pretrained weights")
	}
}

func TestBuildUnpublishedWeightsFallBack(t *testing.T) {
	m, _ := newTestVGG(t, WithVariant(VGG19), WithPretrainedType(zoo.PretrainedVGGFace))

	net, err := m.Build(context.Background(), model.BuildArgs{NumLabels: 3, Seed: 5, Shape: []int{3, 32, 32}})
	require.NoError(t, err)
	_, ok := net.Config().Layer("fc8")
	assert.False(t, ok, "fallback network uses the ImageNet naming")
	out, err := net.Config().OutputLayer()
	require.NoError(t, err)
	assert.Equal(t, 3, out.NOut)
}

func TestBuildPropagatesShapeErrors(t *testing.T) {
	m, _ := newTestVGG(t)
	_, err := m.Build(context.Background(), model.BuildArgs{NumLabels: 3, Seed: 5, Shape: []int{3, 8, 8}})
	assert.True(t, errors.Is(err, nn.ErrInvalidGraph), "unexpected error: %v", err)

	_, err = m.Build(context.Background(), model.BuildArgs{NumLabels: 0, Shape: []int{3, 32, 32}})
	assert.Error(t, err)
}

// writePretrained publishes a randomly initialised VGG16 weight set of type pt
// for 3x32x32 inputs into dir, under its published file name.
func writePretrained(t *testing.T, dir string, pt zoo.PretrainedType) string {
	t.Helper()
	z := zoo.VGG16(zoo.WithInputShape([]int{3, 32, 32}))
	cfg, err := z.PretrainedConf(pt)
	require.NoError(t, err)
	name, ok := z.PretrainedFile(pt)
	require.True(t, ok)

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, weights.Save(f, nn.Init(cfg, 99), weights.DTypeF16))
	return path
}

func TestBuildReplacesPretrainedFaceHead(t *testing.T) {
	if testing.Short() {
		t.Skip("writes a full VGGFace weight file")
	}
	dir := t.TempDir()
	path := writePretrained(t, dir, zoo.PretrainedVGGFace)

	logger, hook := test.NewNullLogger()
	log := logger.WithField("component", "vgg")
	m := New(
		WithPretrainedType(zoo.PretrainedVGGFace),
		WithLogger(log),
		WithWeights(weights.NewStore(dir, "", log)),
		WithWorkspaceMode(func() nn.WorkspaceMode { return nn.WorkspaceModeNone }),
	)

	net, err := m.Build(context.Background(), model.BuildArgs{NumLabels: 5, Seed: 7, Shape: []int{3, 32, 32}})
	require.NoError(t, err)
	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.WarnLevel, e.Level, "published weights load without warnings")
	}

	cfg := net.Config()
	out, err := cfg.OutputLayer()
	require.NoError(t, err)
	assert.Equal(t, "fc8", out.Name)
	assert.Equal(t, 4096, out.NIn)
	assert.Equal(t, 5, out.NOut)
	assert.False(t, out.Frozen)
	assert.False(t, net.Inherited("fc8"), "prediction layer is freshly initialised")

	fc7, ok := cfg.Layer("fc7")
	require.True(t, ok)
	assert.True(t, fc7.Frozen)
	assert.True(t, net.Inherited("fc7"))

	f, err := weights.Open(path)
	require.NoError(t, err)
	defer f.Close()
	want, err := f.Tensor(weights.WeightKey("conv1_1"))
	require.NoError(t, err)
	got, err := net.Params("conv1_1")
	require.NoError(t, err)
	assert.Equal(t, want.Data(), got.W.Data(), "feature layers carry the published weights")

	pretrained, err := m.Build(context.Background(), model.BuildArgs{NumLabels: 5, Seed: 7, Shape: []int{3, 32, 32}, FilterMode: true})
	require.NoError(t, err)
	out, err = pretrained.Config().OutputLayer()
	require.NoError(t, err)
	assert.Equal(t, 2622, out.NOut, "filter mode keeps the published head")
}

func TestBuildReportsCorruptWeights(t *testing.T) {
	dir := t.TempDir()
	name, ok := zoo.VGG16().PretrainedFile(zoo.PretrainedImageNet)
	require.True(t, ok)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("not a weight file"), 0o644))

	logger, _ := test.NewNullLogger()
	log := logger.WithField("component", "vgg")
	m := New(WithLogger(log), WithWeights(weights.NewStore(dir, "", log)))

	_, err := m.Build(context.Background(), model.BuildArgs{NumLabels: 3, Seed: 1, Shape: []int{3, 32, 32}})
	assert.True(t, errors.Is(err, weights.ErrCorrupt), "unexpected error: %v", err)
}
