package models

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-zoo/models/model"
	"github.com/nvr-ai/go-zoo/zoo"
)

func TestNewModel(t *testing.T) {
	tests := []struct {
		args       model.NewModelArgs
		pretrained zoo.PretrainedType
		feature    string
	}{
		{args: model.NewModelArgs{Name: model.ModelNameVGG16}, pretrained: zoo.PretrainedImageNet, feature: "fc2"},
		{args: model.NewModelArgs{Name: model.ModelNameVGG16, Pretrained: zoo.PretrainedVGGFace}, pretrained: zoo.PretrainedVGGFace, feature: "fc7"},
		{args: model.NewModelArgs{Name: model.ModelNameVGG19, Pretrained: zoo.PretrainedVGGFace}, pretrained: zoo.PretrainedVGGFace, feature: "fc2"},
	}

	for _, tt := range tests {
		t.Run(string(tt.args.Name)+"/"+string(tt.pretrained), func(t *testing.T) {
			tt.args.WeightsDir = t.TempDir()
			m, err := NewModel(tt.args)
			require.NoError(t, err)

			assert.Equal(t, tt.args.Name, m.Name())
			assert.Equal(t, model.ModelFamilyVGG, m.Family())
			assert.Equal(t, tt.pretrained, m.PretrainedType())

			sub, err := m.Substitution()
			require.NoError(t, err)
			assert.Equal(t, tt.feature, sub.FeatureLayer)
		})
	}
}

func TestNewModelUnsupported(t *testing.T) {
	_, err := NewModel(model.NewModelArgs{Name: "yolov4"})
	assert.True(t, errors.Is(err, ErrUnsupportedModel), "unexpected error: %v", err)
}

func TestNamesAreRegistered(t *testing.T) {
	for _, name := range Names {
		_, err := NewModel(model.NewModelArgs{Name: name, WeightsDir: t.TempDir()})
		assert.NoError(t, err, "%s should be registered", name)
	}
}
