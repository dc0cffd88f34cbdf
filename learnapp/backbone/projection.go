package backbone

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/checkpoint"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/device"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/nn"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

const (
	// ProjectionName projection backbone 이름
	ProjectionName = "projection"

	featuresName = "features"
)

// ProjectionConfig projection backbone 구조
type ProjectionConfig struct {
	Grid    int
	Dim     int
	Outputs int
}

// DefaultProjectionConfig 7x7 격자, 512 차원 특징, 1000 class 출력
var DefaultProjectionConfig = ProjectionConfig{Grid: 7, Dim: 512, Outputs: 1000}

// Projection 격자 평균 pooling, linear projection, ReLU 로 구성 된 CPU backbone
type Projection struct {
	grid     int
	features *nn.Linear

	activated *tensor.Tensor
}

// NewProjection 무작위 가중치의 projection backbone 과 출력 layer 생성
func NewProjection(cfg ProjectionConfig, rng *rand.Rand) (Pretrained, error) {
	if cfg.Grid <= 0 || cfg.Dim <= 0 || cfg.Outputs <= 0 {
		return Pretrained{}, errors.Errorf("Invalid projection config: %+v", cfg)
	}

	p := &Projection{
		grid:     cfg.Grid,
		features: nn.NewLinear(featuresName, 3*cfg.Grid*cfg.Grid, cfg.Dim, rng),
	}

	return Pretrained{
		Backbone: p,
		Head:     nn.NewLinear(HeadName, cfg.Dim, cfg.Outputs, rng),
	}, nil
}

// LoadProjection checkpoint 파일의 사전학습 가중치로 projection backbone 로드
func LoadProjection(path string) (Pretrained, error) {
	s, err := checkpoint.Load(path)
	if err != nil {
		return Pretrained{}, err
	}

	fw, err := s.Tensor(featuresName + ".weight")
	if err != nil {
		return Pretrained{}, err
	}
	if len(fw.Shape) != 2 {
		return Pretrained{}, errors.Errorf("Invalid features weight shape: %v", fw.Shape)
	}

	dim, in := fw.Shape[0], fw.Shape[1]
	grid := int(math.Round(math.Sqrt(float64(in) / 3)))
	if 3*grid*grid != in {
		return Pretrained{}, errors.Errorf("Features input %d is not 3*grid*grid", in)
	}

	hw, err := s.Tensor(HeadName + ".weight")
	if err != nil {
		return Pretrained{}, err
	}
	if len(hw.Shape) != 2 || hw.Shape[1] != dim {
		return Pretrained{}, errors.Errorf("Invalid head weight shape: %v", hw.Shape)
	}

	pre, err := NewProjection(ProjectionConfig{Grid: grid, Dim: dim, Outputs: hw.Shape[0]}, nil)
	if err != nil {
		return Pretrained{}, err
	}

	for _, p := range append(pre.Backbone.NamedParameters(), pre.Head.NamedParameters()...) {
		t, err := s.Tensor(p.Name)
		if err != nil {
			return Pretrained{}, err
		}
		if !t.SameShape(p.Value) {
			return Pretrained{}, errors.Errorf("Shape mismatch for %s: %v", p.Name, t.Shape)
		}
		copy(p.Value.Data, t.Data)
	}

	return pre, nil
}

// SaveProjection backbone 과 출력 layer 가중치를 checkpoint 파일로 저장
func SaveProjection(path string, pre Pretrained) error {
	if _, ok := pre.Backbone.(*Projection); !ok {
		return errors.Errorf("Not a projection backbone: %s", pre.Backbone.Name())
	}

	s := &checkpoint.State{Meta: checkpoint.Meta{Backbone: ProjectionName}}
	for _, p := range append(pre.Backbone.NamedParameters(), pre.Head.NamedParameters()...) {
		s.Add(p.Name, p.Value)
	}

	return checkpoint.Save(path, s)
}

// Name Backbone 구현
func (p *Projection) Name() string {
	return ProjectionName
}

// FeatureDim Backbone 구현
func (p *Projection) FeatureDim() int {
	return p.features.Out
}

// NamedParameters Backbone 구현
func (p *Projection) NamedParameters() []*nn.Parameter {
	return p.features.NamedParameters()
}

// Devices CPU 만 지원
func (p *Projection) Devices() ([]device.Type, error) {
	return []device.Type{device.CPU}, nil
}

// Close Backbone 구현
func (p *Projection) Close() error {
	return nil
}

// Forward Backbone 구현
func (p *Projection) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	pooled, err := p.pool(x)
	if err != nil {
		return nil, err
	}

	out, err := p.features.Forward(pooled)
	if err != nil {
		return nil, err
	}

	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	p.activated = out

	return out, nil
}

// Backward Trainable 구현
func (p *Projection) Backward(grad *tensor.Tensor) error {
	if p.activated == nil || !grad.SameShape(p.activated) {
		return errors.New("Projection backward without matching forward")
	}

	g := grad.Clone()
	for i, v := range p.activated.Data {
		if v <= 0 {
			g.Data[i] = 0
		}
	}

	_, err := p.features.Backward(g)
	return err
}

// pool [B, 3, H, W] 를 채널별 grid x grid 평균으로
func (p *Projection) pool(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[1] != 3 {
		return nil, errors.Errorf("Projection expects [B, 3, H, W], got %v", x.Shape)
	}

	batch, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	g := p.grid
	if h < g || w < g {
		return nil, errors.Errorf("Image %dx%d smaller than grid %d", h, w, g)
	}

	out := tensor.New(batch, 3*g*g)
	for n := 0; n < batch; n++ {
		img := x.Row(n)
		row := out.Row(n)
		for c := 0; c < 3; c++ {
			plane := img[c*h*w : (c+1)*h*w]
			for gy := 0; gy < g; gy++ {
				y0, y1 := gy*h/g, (gy+1)*h/g
				for gx := 0; gx < g; gx++ {
					x0, x1 := gx*w/g, (gx+1)*w/g

					var sum float32
					for y := y0; y < y1; y++ {
						for _, v := range plane[y*w+x0 : y*w+x1] {
							sum += v
						}
					}
					row[(c*g+gy)*g+gx] = sum / float32((y1-y0)*(x1-x0))
				}
			}
		}
	}

	return out, nil
}
