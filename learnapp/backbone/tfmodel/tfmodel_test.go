package tfmodel

import (
	"encoding/binary"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

func TestToNHWC(t *testing.T) {
	// [1, 2, 1, 2]: 채널0 = {1, 2}, 채널1 = {3, 4}
	x, err := tensor.FromData([]float32{1, 2, 3, 4}, 1, 2, 1, 2)
	require.NoError(t, err)

	raw := toNHWC(x)
	var got []float32
	for i := 0; i < len(raw); i += 4 {
		got = append(got, math.Float32frombits(binary.LittleEndian.Uint32(raw[i:])))
	}

	assert.Equal(t, []float32{1, 3, 2, 4}, got)
}

func TestFromBytes(t *testing.T) {
	raw := make([]byte, 16)
	for i, v := range []float32{1, 2, 3, 4} {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}

	out, err := fromBytes(raw, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, out.Row(1))

	_, err = fromBytes(raw, 3, 2)
	assert.Error(t, err)
}

func TestLoadSavedModel(t *testing.T) {
	dir := os.Getenv("LEARNAPP_SAVEDMODEL")
	if dir == "" {
		t.Skipf("only for testing on local")
	}

	pre, err := Load(Config{
		Dir:       dir,
		Tags:      []string{"serve"},
		InputOp:   os.Getenv("LEARNAPP_SAVEDMODEL_INPUT"),
		FeatureOp: os.Getenv("LEARNAPP_SAVEDMODEL_FEATURES"),
	})
	require.NoError(t, err)
	defer pre.Backbone.Close()

	assert.Greater(t, pre.Backbone.FeatureDim(), 0)
	assert.NotEmpty(t, pre.Backbone.NamedParameters())

	devices, err := pre.Backbone.Devices()
	require.NoError(t, err)
	assert.NotEmpty(t, devices)
}
