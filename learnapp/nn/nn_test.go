package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

func TestLinearForward(t *testing.T) {
	l := NewLinear("fc", 2, 2, nil)
	copy(l.Weight.Value.Data, []float32{1, 2, 3, 4})
	copy(l.Bias.Value.Data, []float32{0.5, -0.5})

	x, err := tensor.FromData([]float32{1, 1, 2, 0}, 2, 2)
	require.NoError(t, err)

	y, err := l.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{3.5, 6.5, 2.5, 5.5}, y.Data)

	assert.Equal(t, "fc.weight", l.Weight.Name)
	assert.Equal(t, "fc.bias", l.Bias.Name)
}

func TestLinearShapeError(t *testing.T) {
	l := NewLinear("fc", 3, 2, nil)
	_, err := l.Forward(tensor.New(1, 2))
	assert.Error(t, err)

	_, err = NewLinear("fc", 3, 2, nil).Backward(tensor.New(1, 2))
	assert.Error(t, err)
}

func lossOf(t *testing.T, l *Linear, x *tensor.Tensor, labels []int) float64 {
	y, err := l.Forward(x)
	require.NoError(t, err)
	loss, _, err := CrossEntropy{}.Forward(y, labels)
	require.NoError(t, err)
	return loss
}

func TestLinearGradientMatchesNumeric(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	l := NewLinear("fc", 4, 3, rng)

	x := tensor.New(2, 4)
	for i := range x.Data {
		x.Data[i] = float32(rng.NormFloat64())
	}
	labels := []int{0, 2}

	y, err := l.Forward(x)
	require.NoError(t, err)
	_, grad, err := CrossEntropy{}.Forward(y, labels)
	require.NoError(t, err)
	_, err = l.Backward(grad)
	require.NoError(t, err)

	const eps = 1e-3
	for i := range l.Weight.Value.Data {
		orig := l.Weight.Value.Data[i]
		l.Weight.Value.Data[i] = orig + eps
		plus := lossOf(t, l, x, labels)
		l.Weight.Value.Data[i] = orig - eps
		minus := lossOf(t, l, x, labels)
		l.Weight.Value.Data[i] = orig

		numeric := (plus - minus) / (2 * eps)
		assert.InDelta(t, numeric, float64(l.Weight.Grad.Data[i]), 1e-3, "weight %d", i)
	}
}

func TestCrossEntropyUniform(t *testing.T) {
	logits := tensor.New(2, 4)
	loss, grad, err := CrossEntropy{}.Forward(logits, []int{1, 3})
	require.NoError(t, err)

	assert.InDelta(t, math.Log(4), loss, 1e-9)
	assert.InDelta(t, (0.25-1)/2, float64(grad.Data[1]), 1e-6)
	assert.InDelta(t, 0.25/2, float64(grad.Data[0]), 1e-6)
}

func TestCrossEntropyLabelRange(t *testing.T) {
	_, _, err := CrossEntropy{}.Forward(tensor.New(1, 2), []int{2})
	assert.Error(t, err)

	_, _, err = CrossEntropy{}.Forward(tensor.New(2, 2), []int{0})
	assert.Error(t, err)
}

func TestCorrect(t *testing.T) {
	logits, err := tensor.FromData([]float32{0.1, 0.9, 0.8, 0.2, 0.3, 0.7}, 3, 2)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 0, 1}, Argmax(logits))
	assert.Equal(t, 2, Correct(logits, []int{1, 0, 0}))
}

func TestSGDMomentum(t *testing.T) {
	p := NewParameter("fc.weight", 1)
	p.Value.Data[0] = 1

	opt := NewSGD([]*Parameter{p}, 0.1, 0.9, 0)

	p.Grad.Data[0] = 1
	opt.Step()
	assert.InDelta(t, 0.9, float64(p.Value.Data[0]), 1e-6)

	opt.Step()
	// buf = 0.9*1 + 1 = 1.9
	assert.InDelta(t, 0.9-0.19, float64(p.Value.Data[0]), 1e-6)

	opt.ZeroGrad()
	assert.Equal(t, float32(0), p.Grad.Data[0])
}

func TestSGDWeightDecay(t *testing.T) {
	p := NewParameter("w", 1)
	p.Value.Data[0] = 2

	opt := NewSGD([]*Parameter{p}, 0.5, 0, 0.1)
	opt.Step()

	assert.InDelta(t, 2-0.5*0.2, float64(p.Value.Data[0]), 1e-6)
}

func TestSGDSkipsFrozen(t *testing.T) {
	frozen := NewParameter("conv.weight", 2)
	frozen.Value.Data[0] = 1
	frozen.Grad.Data[0] = 5
	frozen.RequiresGrad = false

	opt := NewSGD([]*Parameter{frozen}, 1, 0.9, 0.1)
	opt.Step()

	assert.Equal(t, float32(1), frozen.Value.Data[0])

	opt.SetLR(0.01)
	assert.Equal(t, 0.01, opt.LR())
}

func TestParameterHelpers(t *testing.T) {
	a := NewParameter("fc.weight", 1)
	b := NewParameter("features.weight", 1)
	b.RequiresGrad = false

	params := []*Parameter{a, b}
	assert.Equal(t, []*Parameter{a}, Prefixed(params, "fc"))
	assert.Equal(t, []string{"fc.weight"}, Trainable(params))
	assert.True(t, AnyTrainable(params))

	a.RequiresGrad = false
	assert.False(t, AnyTrainable(params))
}
