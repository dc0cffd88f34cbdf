package training

// Callback epoch 경계에서 호출되는 관찰자. 등록 순서대로 호출됨
type Callback interface {
	OnTrainBegin(t *Trainer) error
	OnEpochEnd(t *Trainer, logs *EpochLogs) error
	OnTrainEnd(t *Trainer, h *History) error
}

// BaseCallback 아무것도 하지 않는 Callback. 필요한 method 만 재정의
type BaseCallback struct{}

// OnTrainBegin Callback 구현
func (BaseCallback) OnTrainBegin(*Trainer) error { return nil }

// OnEpochEnd Callback 구현
func (BaseCallback) OnEpochEnd(*Trainer, *EpochLogs) error { return nil }

// OnTrainEnd Callback 구현
func (BaseCallback) OnTrainEnd(*Trainer, *History) error { return nil }
