package transform

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func TestValShapeAndDeterminism(t *testing.T) {
	img := gradientImage(320, 240)
	p := Val(256, 224)
	require.True(t, p.Deterministic())

	a, err := p.Run(img, nil)
	require.NoError(t, err)
	b, err := p.Run(img, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	assert.Equal(t, []int{3, 224, 224}, a.Shape)
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestTrainSeeded(t *testing.T) {
	img := gradientImage(300, 200)
	p := Train(64)
	require.False(t, p.Deterministic())

	a, err := p.Run(img, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	b, err := p.Run(img, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Equal(t, []int{3, 64, 64}, a.Shape)
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestTrainRequiresSource(t *testing.T) {
	_, err := Train(32).Run(gradientImage(40, 40), nil)
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 0, 255, 255
	}

	p := Pipeline{Mean: [3]float32{0.5, 0.5, 0.5}, Std: [3]float32{0.5, 0.25, 1}}
	out, err := p.Run(img, nil)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, out.Data[0], 1e-6)
	assert.InDelta(t, -2.0, out.Data[16], 1e-6)
	assert.InDelta(t, 0.5, out.Data[32], 1e-6)
}

func TestFlip(t *testing.T) {
	img := gradientImage(10, 3)
	flipped := RandomHorizontalFlip{P: 1}.Apply(img, rand.New(rand.NewSource(0))).(*image.RGBA)

	assert.Equal(t, img.RGBAAt(0, 1), flipped.RGBAAt(9, 1))
	assert.Equal(t, img.RGBAAt(9, 2), flipped.RGBAAt(0, 2))

	same := RandomHorizontalFlip{P: 0}.Apply(img, rand.New(rand.NewSource(0)))
	assert.Equal(t, image.Image(img), same)
}

func TestResizeShorterSide(t *testing.T) {
	out := Resize{Size: 100}.Apply(gradientImage(400, 200), nil)
	assert.Equal(t, 200, out.Bounds().Dx())
	assert.Equal(t, 100, out.Bounds().Dy())
}

func TestCenterCropPadsSmallImage(t *testing.T) {
	out := CenterCrop{Size: 8}.Apply(gradientImage(4, 4), nil).(*image.RGBA)
	assert.Equal(t, image.Rect(0, 0, 8, 8), out.Bounds())
	assert.Equal(t, color.RGBA{}, out.RGBAAt(0, 0))
	assert.Equal(t, uint8(255), out.RGBAAt(3, 3).A)
}

func TestRandomResizedCropInBounds(t *testing.T) {
	c := RandomResizedCrop{Size: 16, Scale: [2]float64{0.08, 1}, Ratio: [2]float64{3. / 4., 4. / 3.}}
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 100; i++ {
		r := c.cropRect(50, 30, rng)
		assert.True(t, r.In(image.Rect(0, 0, 50, 30)), "%v", r)
		assert.False(t, r.Empty())
	}
}

func TestEmptyImage(t *testing.T) {
	_, err := Val(256, 224).Run(image.NewRGBA(image.Rect(0, 0, 0, 0)), nil)
	assert.Error(t, err)
}
