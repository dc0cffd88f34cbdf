package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/constants"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, constants.DatasetURL, cfg.Dataset.URL)
	assert.Equal(t, constants.DatasetTimeout, cfg.Dataset.Timeout)
	assert.Equal(t, 0.001, cfg.Train.LR)
	assert.Equal(t, 0.9, cfg.Train.Momentum)
	assert.Equal(t, 4, cfg.Train.BatchSize)
	assert.Equal(t, 25, cfg.Train.Epochs)
	assert.Equal(t, 4, cfg.Train.Workers)
	assert.Equal(t, 7, cfg.Train.StepLR.StepSize)
	assert.Equal(t, 0.1, cfg.Train.StepLR.Gamma)
	assert.Equal(t, "fc", cfg.Train.FreezePrefix)
	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, BackboneProjection, cfg.Model.Backbone)
	assert.Equal(t, []string{"serve"}, cfg.Model.SavedModel.Tags)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
train:
  epochs: 3
  batchsize: 8
dataset:
  timeout: 5s
device: gpu
`), 0644))

	t.Setenv("CFG_TRAIN_LR", "0.01")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Train.Epochs)
	assert.Equal(t, 8, cfg.Train.BatchSize)
	assert.Equal(t, 0.01, cfg.Train.LR)
	assert.Equal(t, 5*time.Second, cfg.Dataset.Timeout)
	assert.Equal(t, "gpu", cfg.Device)
	assert.Equal(t, 0.9, cfg.Train.Momentum)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.Train.BatchSize = 0
	assert.Error(t, Validate(bad))

	bad = cfg
	bad.Train.StepLR.Gamma = 0
	assert.Error(t, Validate(bad))

	bad = cfg
	bad.Model.Backbone = "vgg"
	assert.Error(t, Validate(bad))

	bad = cfg
	bad.Transform.Resize = 100
	assert.Error(t, Validate(bad))
}
