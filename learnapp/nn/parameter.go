package nn

import (
	"strings"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

// Parameter 이름이 있는 학습 parameter
type Parameter struct {
	Name         string
	Value        *tensor.Tensor
	Grad         *tensor.Tensor
	RequiresGrad bool
}

// NewParameter 학습 가능한 parameter 생성
func NewParameter(name string, shape ...int) *Parameter {
	return &Parameter{
		Name:         name,
		Value:        tensor.New(shape...),
		Grad:         tensor.New(shape...),
		RequiresGrad: true,
	}
}

// ZeroGrad 누적 된 gradient 초기화
func (p *Parameter) ZeroGrad() {
	if p.Grad != nil {
		p.Grad.Zero()
	}
}

// Module 이름이 있는 parameter 를 가진 구성요소
type Module interface {
	NamedParameters() []*Parameter
}

// Prefixed prefix 로 시작하는 parameter
func Prefixed(params []*Parameter, prefix string) []*Parameter {
	var out []*Parameter
	for _, p := range params {
		if strings.HasPrefix(p.Name, prefix) {
			out = append(out, p)
		}
	}
	return out
}

// Trainable RequiresGrad 인 parameter 이름
func Trainable(params []*Parameter) []string {
	var names []string
	for _, p := range params {
		if p.RequiresGrad {
			names = append(names, p.Name)
		}
	}
	return names
}

// AnyTrainable 하나라도 RequiresGrad 이면 true
func AnyTrainable(params []*Parameter) bool {
	for _, p := range params {
		if p.RequiresGrad {
			return true
		}
	}
	return false
}
