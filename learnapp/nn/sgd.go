package nn

import (
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

// SGD momentum, weight decay 를 지원하는 확률적 경사 하강법
type SGD struct {
	params      []*Parameter
	lr          float64
	momentum    float64
	weightDecay float64

	buffers map[*Parameter]*tensor.Tensor
}

// NewSGD params 를 갱신하는 optimizer 생성
func NewSGD(params []*Parameter, lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		params:      params,
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		buffers:     make(map[*Parameter]*tensor.Tensor),
	}
}

// LR 현재 learning rate
func (o *SGD) LR() float64 {
	return o.lr
}

// SetLR learning rate 변경
func (o *SGD) SetLR(lr float64) {
	o.lr = lr
}

// Step RequiresGrad 인 parameter 만 갱신
func (o *SGD) Step() {
	for _, p := range o.params {
		if !p.RequiresGrad || p.Grad == nil || p.Value == nil {
			continue
		}

		w, g := p.Value.Data, p.Grad.Data

		d := make([]float32, len(g))
		for i := range g {
			d[i] = g[i] + float32(o.weightDecay)*w[i]
		}

		if o.momentum != 0 {
			buf, ok := o.buffers[p]
			if !ok {
				buf = tensor.New(p.Value.Shape...)
				copy(buf.Data, d)
				o.buffers[p] = buf
			} else {
				for i := range buf.Data {
					buf.Data[i] = float32(o.momentum)*buf.Data[i] + d[i]
				}
			}
			d = buf.Data
		}

		for i := range w {
			w[i] -= float32(o.lr) * d[i]
		}
	}
}

// ZeroGrad 모든 parameter 의 gradient 초기화
func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.ZeroGrad()
	}
}
