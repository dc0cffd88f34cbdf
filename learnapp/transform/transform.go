package transform

import (
	"image"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/constants"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

// Op 이미지 변환 연산. 무작위 연산은 rng 만 사용해야 함
type Op interface {
	Apply(img image.Image, rng *rand.Rand) image.Image
}

// Randomized 무작위성을 사용하는 연산
type Randomized interface {
	Randomized() bool
}

// Pipeline 순서가 있는 변환 연산과 채널별 정규화
type Pipeline struct {
	Ops  []Op
	Mean [3]float32
	Std  [3]float32
}

// Train 학습용 변환: 무작위 crop 후 좌우 반전
func Train(size int) Pipeline {
	return Pipeline{
		Ops: []Op{
			RandomResizedCrop{Size: size, Scale: [2]float64{0.08, 1}, Ratio: [2]float64{3. / 4., 4. / 3.}},
			RandomHorizontalFlip{P: 0.5},
		},
		Mean: constants.Mean,
		Std:  constants.Std,
	}
}

// Val 검증용 변환: resize 후 중앙 crop
func Val(resize, size int) Pipeline {
	return Pipeline{
		Ops: []Op{
			Resize{Size: resize},
			CenterCrop{Size: size},
		},
		Mean: constants.Mean,
		Std:  constants.Std,
	}
}

// Deterministic 무작위 연산을 포함하지 않으면 true
func (p Pipeline) Deterministic() bool {
	for _, op := range p.Ops {
		if r, ok := op.(Randomized); ok && r.Randomized() {
			return false
		}
	}
	return true
}

// Run 변환을 적용하고 [C,H,W] 정규화 텐서를 반환
func (p Pipeline) Run(img image.Image, rng *rand.Rand) (*tensor.Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("Empty image")
	}
	if rng == nil && !p.Deterministic() {
		return nil, errors.New("Random transform requires a seeded source")
	}

	for _, op := range p.Ops {
		img = op.Apply(img, rng)
	}

	return p.toTensor(toRGBA(img)), nil
}

func (p Pipeline) toTensor(img *image.RGBA) *tensor.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	t := tensor.New(3, h, w)

	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			for c := 0; c < 3; c++ {
				v := float32(img.Pix[off+c]) / 255
				t.Data[c*plane+y*w+x] = (v - p.Mean[c]) / p.Std[c]
			}
		}
	}

	return t
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Resize 짧은 변을 Size 로 맞춤. 비율 유지
type Resize struct {
	Size int
}

// Apply Op 구현
func (r Resize) Apply(img image.Image, _ *rand.Rand) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var ow, oh int
	if w <= h {
		ow = r.Size
		oh = int(float64(r.Size) * float64(h) / float64(w))
	} else {
		oh = r.Size
		ow = int(float64(r.Size) * float64(w) / float64(h))
	}
	if ow == w && oh == h {
		return img
	}

	return scale(img, b, ow, oh)
}

// CenterCrop 중앙 Size x Size 영역. 이미지가 작으면 0 으로 채움
type CenterCrop struct {
	Size int
}

// Apply Op 구현
func (c CenterCrop) Apply(img image.Image, _ *rand.Rand) image.Image {
	b := img.Bounds()
	top := int(math.Round(float64(b.Dy()-c.Size) / 2))
	left := int(math.Round(float64(b.Dx()-c.Size) / 2))

	dst := image.NewRGBA(image.Rect(0, 0, c.Size, c.Size))
	draw.Draw(dst, dst.Bounds(), img, b.Min.Add(image.Pt(left, top)), draw.Src)
	return dst
}

// RandomResizedCrop 무작위 영역/비율로 crop 후 Size x Size 로 조정
type RandomResizedCrop struct {
	Size  int
	Scale [2]float64
	Ratio [2]float64
}

// Randomized Randomized 구현
func (RandomResizedCrop) Randomized() bool { return true }

// Apply Op 구현
func (c RandomResizedCrop) Apply(img image.Image, rng *rand.Rand) image.Image {
	b := img.Bounds()
	return scale(img, c.cropRect(b.Dx(), b.Dy(), rng).Add(b.Min), c.Size, c.Size)
}

func (c RandomResizedCrop) cropRect(w, h int, rng *rand.Rand) image.Rectangle {
	area := float64(w * h)
	logRatio := [2]float64{math.Log(c.Ratio[0]), math.Log(c.Ratio[1])}

	for attempt := 0; attempt < 10; attempt++ {
		target := area * uniform(rng, c.Scale[0], c.Scale[1])
		aspect := math.Exp(uniform(rng, logRatio[0], logRatio[1]))

		cw := int(math.Round(math.Sqrt(target * aspect)))
		ch := int(math.Round(math.Sqrt(target / aspect)))

		if cw > 0 && cw <= w && ch > 0 && ch <= h {
			top := rng.Intn(h - ch + 1)
			left := rng.Intn(w - cw + 1)
			return image.Rect(left, top, left+cw, top+ch)
		}
	}

	// 중앙 crop 으로 대체
	cw, ch := w, h
	inRatio := float64(w) / float64(h)
	if inRatio < c.Ratio[0] {
		ch = int(math.Round(float64(cw) / c.Ratio[0]))
	} else if inRatio > c.Ratio[1] {
		cw = int(math.Round(float64(ch) * c.Ratio[1]))
	}
	top := (h - ch) / 2
	left := (w - cw) / 2

	return image.Rect(left, top, left+cw, top+ch)
}

// RandomHorizontalFlip 확률 P 로 좌우 반전
type RandomHorizontalFlip struct {
	P float64
}

// Randomized Randomized 구현
func (RandomHorizontalFlip) Randomized() bool { return true }

// Apply Op 구현
func (f RandomHorizontalFlip) Apply(img image.Image, rng *rand.Rand) image.Image {
	if rng.Float64() >= f.P {
		return img
	}
	return flip(toRGBA(img))
}

func flip(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			so := src.PixOffset(b.Min.X+w-1-x, b.Min.Y+y)
			do := dst.PixOffset(x, y)
			copy(dst.Pix[do:do+4], src.Pix[so:so+4])
		}
	}

	return dst
}

func scale(img image.Image, r image.Rectangle, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, r, draw.Src, nil)
	return dst
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
