package training

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/checkpoint"
)

// Checkpoint 감시 지표가 최고값을 엄격히 넘을 때마다 모델 상태를 Path 에 저장
type Checkpoint struct {
	BaseCallback
	Path    string
	Monitor string

	best  float64
	seen  bool
	saves int
}

// NewCheckpoint monitor 를 감시하는 checkpoint 생성
func NewCheckpoint(path, monitor string) *Checkpoint {
	return &Checkpoint{
		Path:    path,
		Monitor: monitor,
	}
}

// Best 지금까지의 최고값
func (c *Checkpoint) Best() (float64, bool) {
	return c.best, c.seen
}

// Saves 저장 횟수
func (c *Checkpoint) Saves() int {
	return c.saves
}

// OnTrainBegin 최고값 초기화
func (c *Checkpoint) OnTrainBegin(t *Trainer) error {
	if _, err := (&EpochLogs{}).Value(c.Monitor); err != nil {
		return err
	}

	c.seen = false
	c.best = math.Inf(-1)
	if lowerIsBetter(c.Monitor) {
		c.best = math.Inf(1)
	}

	return nil
}

// OnEpochEnd Callback 구현
func (c *Checkpoint) OnEpochEnd(t *Trainer, logs *EpochLogs) error {
	v, err := logs.Value(c.Monitor)
	if err != nil {
		return err
	}

	improved := v > c.best
	if lowerIsBetter(c.Monitor) {
		improved = v < c.best
	}
	if !improved {
		return nil
	}

	state := t.Model.StateDict()
	state.Meta.Epoch = logs.Epoch
	state.Meta.Monitor = c.Monitor
	state.Meta.Value = v

	if err := checkpoint.Save(c.Path, state); err != nil {
		return errors.Wrap(err, "Checkpoint")
	}

	c.best = v
	c.seen = true
	c.saves++
	logs.Checkpointed = true

	t.logger().Debug("Checkpoint saved",
		zap.String("path", c.Path),
		zap.Int("epoch", logs.Epoch),
		zap.String("monitor", c.Monitor),
		zap.Float64("value", v))

	return nil
}
