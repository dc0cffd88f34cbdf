package backbone

import (
	stderrors "errors"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/checkpoint"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/device"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/nn"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

// HeadName 교체 된 출력 layer 의 parameter 이름 prefix
const HeadName = "fc"

// ErrNotTrainable backbone 이 gradient 전파를 지원하지 않음
var ErrNotTrainable = stderrors.New("backbone is not trainable")

// Backbone 사전학습 된 특징 추출기
type Backbone interface {
	nn.Module
	device.Prober

	Name() string
	FeatureDim() int
	// Forward [B, C, H, W] 이미지를 [B, FeatureDim] 특징으로
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Close() error
}

// Trainable gradient 를 backbone parameter 로 전파할 수 있는 backbone
type Trainable interface {
	Backward(grad *tensor.Tensor) error
}

// Pretrained 로드 된 backbone 과 원래 출력 layer
type Pretrained struct {
	Backbone Backbone
	Head     *nn.Linear
}

// Classifier backbone 과 교체 된 출력 layer
type Classifier struct {
	Backbone Backbone
	FC       *nn.Linear
	Classes  []string
}

// Assemble 원래 출력 layer 를 버리고 class 수에 맞는 새 layer 를 붙임
func Assemble(p Pretrained, classes []string, rng *rand.Rand) (*Classifier, error) {
	if p.Backbone == nil {
		return nil, errors.New("Empty backbone")
	}
	if len(classes) < 2 {
		return nil, errors.Errorf("At least 2 classes are required: %v", classes)
	}

	return &Classifier{
		Backbone: p.Backbone,
		FC:       nn.NewLinear(HeadName, p.Backbone.FeatureDim(), len(classes), rng),
		Classes:  append([]string(nil), classes...),
	}, nil
}

// NamedParameters backbone parameter 다음 출력 layer parameter
func (c *Classifier) NamedParameters() []*nn.Parameter {
	return append(c.Backbone.NamedParameters(), c.FC.NamedParameters()...)
}

// Forward [B, C, H, W] -> [B, classes] logits
func (c *Classifier) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	features, err := c.Backbone.Forward(x)
	if err != nil {
		return nil, errors.Wrapf(err, "%s forward", c.Backbone.Name())
	}
	return c.FC.Forward(features)
}

// Backward logits gradient 를 전파. backbone 은 학습 대상 parameter 가 있을 때만
func (c *Classifier) Backward(grad *tensor.Tensor) error {
	g, err := c.FC.Backward(grad)
	if err != nil {
		return err
	}

	if !nn.AnyTrainable(c.Backbone.NamedParameters()) {
		return nil
	}

	t, ok := c.Backbone.(Trainable)
	if !ok {
		return errors.Wrap(ErrNotTrainable, c.Backbone.Name())
	}

	return t.Backward(g)
}

// StateDict 값이 있는 모든 parameter 의 스냅샷
func (c *Classifier) StateDict() *checkpoint.State {
	s := &checkpoint.State{
		Meta: checkpoint.Meta{
			Backbone: c.Backbone.Name(),
			Classes:  append([]string(nil), c.Classes...),
		},
	}

	for _, p := range c.NamedParameters() {
		if p.Value == nil {
			continue
		}
		s.Add(p.Name, p.Value)
	}

	return s
}

// LoadStateDict 스냅샷의 값을 parameter 에 복사
func (c *Classifier) LoadStateDict(s *checkpoint.State) error {
	for _, p := range c.NamedParameters() {
		if p.Value == nil {
			continue
		}

		t, err := s.Tensor(p.Name)
		if err != nil {
			return err
		}
		if !t.SameShape(p.Value) {
			return errors.Errorf("Shape mismatch for %s: %v != %v", p.Name, t.Shape, p.Value.Shape)
		}
		copy(p.Value.Data, t.Data)
	}

	if len(s.Meta.Classes) > 0 {
		c.Classes = append([]string(nil), s.Meta.Classes...)
	}

	return nil
}

// Devices device.Prober 구현
func (c *Classifier) Devices() ([]device.Type, error) {
	return c.Backbone.Devices()
}

// Close backbone 자원 해제
func (c *Classifier) Close() error {
	return c.Backbone.Close()
}
