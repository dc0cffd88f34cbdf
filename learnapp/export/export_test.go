package export

import (
	"io/ioutil"
	"path"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/training"
)

func TestWrite(t *testing.T) {
	dir := t.TempDir()

	cp := filepath.Join(t.TempDir(), "best.json")
	require.NoError(t, ioutil.WriteFile(cp, []byte(`{"tensors":[]}`), 0644))

	h := &training.History{Epochs: []training.EpochLogs{
		{Epoch: 1, TrainLoss: 0.7, TrainAcc: 0.5, ValidLoss: 0.6, ValidAcc: 0.6, LR: 0.001, Checkpointed: true},
		{Epoch: 2, TrainLoss: 0.5, TrainAcc: 0.75, ValidLoss: 0.4, ValidAcc: 0.8, LR: 0.001, Checkpointed: true},
		{Epoch: 3, TrainLoss: 0.4, TrainAcc: 0.8, ValidLoss: 0.5, ValidAcc: 0.7, LR: 0.0001},
	}}

	configFile, err := Write(dir, Model{
		Name:        "bees",
		Description: "ants and bees",
		Backbone:    "projection",
		Size:        224,
		Classes:     []string{"ants", "bees"},
		Checkpoint:  cp,
		History:     h,
	})
	require.NoError(t, err)
	assert.Equal(t, path.Join(dir, "config.yaml"), configFile)

	cfg, err := Read(configFile)
	require.NoError(t, err)
	assert.Equal(t, "bees", cfg.Name)
	assert.Equal(t, "binary", cfg.Classification)
	assert.Equal(t, []int32{224, 224, 3}, cfg.InputShape)
	assert.Equal(t, 3, cfg.TrainingResult.Epochs)
	assert.Equal(t, 2, cfg.TrainingResult.BestEpoch)
	assert.Equal(t, []float32{0.6, 0.8, 0.7}, cfg.TrainingResult.ValidationAccuracy)
	assert.Len(t, cfg.Mean, 3)

	labels, err := ReadLabels(path.Join(dir, cfg.LabelsFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"ants", "bees"}, labels)

	copied, err := ioutil.ReadFile(path.Join(dir, cfg.CheckpointFile))
	require.NoError(t, err)
	assert.Equal(t, `{"tensors":[]}`, string(copied))
}

func TestWriteMultiClass(t *testing.T) {
	configFile, err := Write(t.TempDir(), Model{Name: "insects", Size: 8, Classes: []string{"ants", "bees", "wasps"}})
	require.NoError(t, err)

	cfg, err := Read(configFile)
	require.NoError(t, err)
	assert.Equal(t, "multi", cfg.Classification)
	assert.Equal(t, 0, cfg.TrainingResult.Epochs)
}

func TestWriteInvalid(t *testing.T) {
	_, err := Write(t.TempDir(), Model{Classes: []string{"a", "b"}})
	assert.Error(t, err)

	_, err = Write(t.TempDir(), Model{Name: "x", Classes: []string{"a"}})
	assert.Error(t, err)

	_, err = Write(t.TempDir(), Model{Name: "x", Classes: []string{"a", "b"}, Checkpoint: "/nonexistent/best.json"})
	assert.Error(t, err)
}

func TestServable(t *testing.T) {
	dir := t.TempDir()

	_, err := Write(dir, Model{Name: "bees", Size: 8, Classes: []string{"ants", "bees"}})
	require.NoError(t, err)
	assert.False(t, Servable(dir))

	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "saved_model.pb"), []byte("pb"), 0644))
	assert.True(t, Servable(dir))

	assert.False(t, Servable(filepath.Join(dir, "missing")))
}

func TestWriteCheckpointInPlace(t *testing.T) {
	dir := t.TempDir()
	cp := filepath.Join(dir, "best_model.json")
	require.NoError(t, ioutil.WriteFile(cp, []byte(`{"tensors":[]}`), 0644))

	_, err := Write(dir, Model{Name: "bees", Size: 8, Classes: []string{"ants", "bees"}, Checkpoint: cp})
	require.NoError(t, err)

	data, err := ioutil.ReadFile(cp)
	require.NoError(t, err)
	assert.Equal(t, `{"tensors":[]}`, string(data))
}
