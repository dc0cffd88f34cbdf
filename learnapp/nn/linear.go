package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

// Linear y = x W^T + b
type Linear struct {
	In, Out int
	Weight  *Parameter
	Bias    *Parameter

	input *tensor.Tensor
}

// NewLinear 이름이 name.weight, name.bias 인 linear layer 생성.
// rng 가 있으면 U(-1/sqrt(in), 1/sqrt(in)) 로 초기화
func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: NewParameter(name+".weight", out, in),
		Bias:   NewParameter(name+".bias", out),
	}

	if rng != nil {
		bound := 1 / math.Sqrt(float64(in))
		for _, p := range []*Parameter{l.Weight, l.Bias} {
			for i := range p.Value.Data {
				p.Value.Data[i] = float32((rng.Float64()*2 - 1) * bound)
			}
		}
	}

	return l
}

// NamedParameters Module 구현
func (l *Linear) NamedParameters() []*Parameter {
	return []*Parameter{l.Weight, l.Bias}
}

// Forward x [B, In] -> [B, Out]
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 || x.Shape[1] != l.In {
		return nil, errors.Errorf("Linear expects [B, %d], got %v", l.In, x.Shape)
	}

	batch := x.Shape[0]
	out := tensor.New(batch, l.Out)
	w, b := l.Weight.Value.Data, l.Bias.Value.Data

	for n := 0; n < batch; n++ {
		xr := x.Row(n)
		yr := out.Row(n)
		for o := 0; o < l.Out; o++ {
			sum := b[o]
			wr := w[o*l.In : (o+1)*l.In]
			for i, v := range xr {
				sum += wr[i] * v
			}
			yr[o] = sum
		}
	}

	l.input = x

	return out, nil
}

// Backward gradOut [B, Out] 로 parameter gradient 를 누적하고 입력 gradient 반환
func (l *Linear) Backward(gradOut *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, errors.New("Backward called before Forward")
	}
	if len(gradOut.Shape) != 2 || gradOut.Shape[0] != l.input.Shape[0] || gradOut.Shape[1] != l.Out {
		return nil, errors.Errorf("Linear gradient shape mismatch: %v", gradOut.Shape)
	}

	batch := gradOut.Shape[0]
	gradIn := tensor.New(batch, l.In)
	w := l.Weight.Value.Data

	for n := 0; n < batch; n++ {
		xr := l.input.Row(n)
		gr := gradOut.Row(n)
		gi := gradIn.Row(n)
		for o, g := range gr {
			if g == 0 {
				continue
			}
			wr := w[o*l.In : (o+1)*l.In]
			for i := range gi {
				gi[i] += g * wr[i]
			}
			if l.Weight.RequiresGrad {
				gw := l.Weight.Grad.Data[o*l.In : (o+1)*l.In]
				for i, v := range xr {
					gw[i] += g * v
				}
			}
			if l.Bias.RequiresGrad {
				l.Bias.Grad.Data[o] += g
			}
		}
	}

	return gradIn, nil
}
