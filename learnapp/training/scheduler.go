package training

import (
	"math"
)

// StepLR StepSize epoch 마다 learning rate 에 Gamma 를 곱함
type StepLR struct {
	BaseCallback
	StepSize int
	Gamma    float64
}

// LR epoch 이 끝난 뒤 적용할 learning rate
func (s *StepLR) LR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

// OnEpochEnd 다음 epoch 의 learning rate 설정
func (s *StepLR) OnEpochEnd(t *Trainer, logs *EpochLogs) error {
	t.Optimizer.SetLR(s.LR(logs.Epoch, t.BaseLR()))
	return nil
}
