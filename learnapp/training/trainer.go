package training

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/checkpoint"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/nn"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

// Model 학습 대상 모델
type Model interface {
	nn.Module
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Backward(grad *tensor.Tensor) error
	StateDict() *checkpoint.State
}

// Optimizer parameter 갱신
type Optimizer interface {
	Step()
	ZeroGrad()
	LR() float64
	SetLR(lr float64)
}

// Trainer 고정 epoch 동안 학습과 검증을 반복
type Trainer struct {
	Model     Model
	Optimizer Optimizer
	Loss      nn.CrossEntropy
	Train     *DataLoader
	Valid     *DataLoader
	Epochs    int
	Callbacks []Callback
	Logger    *zap.Logger

	baseLR float64
}

// BaseLR 학습 시작 시점의 learning rate
func (t *Trainer) BaseLR() float64 {
	return t.baseLR
}

func (t *Trainer) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

// Fit 학습 실행. 어떤 에러든 학습을 중단함
func (t *Trainer) Fit(ctx context.Context) (*History, error) {
	if t.Epochs <= 0 {
		return nil, errors.Errorf("Invalid epochs: %d", t.Epochs)
	}

	t.baseLR = t.Optimizer.LR()
	history := &History{}

	for _, cb := range t.Callbacks {
		if err := cb.OnTrainBegin(t); err != nil {
			return history, errors.Wrap(err, "Train begin")
		}
	}

	for epoch := 1; epoch <= t.Epochs; epoch++ {
		t0 := time.Now()
		logs := EpochLogs{
			Epoch: epoch,
			LR:    t.Optimizer.LR(),
		}

		var err error
		if logs.TrainLoss, logs.TrainAcc, logs.Steps, err = t.trainEpoch(ctx, epoch); err != nil {
			return history, errors.Wrapf(err, "Epoch %d training", epoch)
		}
		history.Steps += logs.Steps

		if logs.ValidLoss, logs.ValidAcc, err = t.validEpoch(ctx, epoch); err != nil {
			return history, errors.Wrapf(err, "Epoch %d validation", epoch)
		}
		history.ValidationPasses++
		logs.Duration = time.Since(t0)

		for _, cb := range t.Callbacks {
			if err := cb.OnEpochEnd(t, &logs); err != nil {
				return history, errors.Wrapf(err, "Epoch %d end", epoch)
			}
		}
		history.Epochs = append(history.Epochs, logs)

		t.logger().Info("Epoch done",
			zap.Int("epoch", epoch),
			zap.Float64("trainLoss", logs.TrainLoss),
			zap.Float64("trainAcc", logs.TrainAcc),
			zap.Float64("validLoss", logs.ValidLoss),
			zap.Float64("validAcc", logs.ValidAcc),
			zap.Float64("lr", logs.LR),
			zap.Bool("checkpoint", logs.Checkpointed),
			zap.Duration("elapsed", logs.Duration))
	}

	for _, cb := range t.Callbacks {
		if err := cb.OnTrainEnd(t, history); err != nil {
			return history, errors.Wrap(err, "Train end")
		}
	}

	return history, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, epoch int) (float64, float64, int, error) {
	var (
		lossSum float64
		correct int
		seen    int
		steps   int
	)

	err := t.Train.Each(ctx, epoch, func(b Batch) error {
		logits, err := t.Model.Forward(b.Inputs)
		if err != nil {
			return err
		}

		loss, grad, err := t.Loss.Forward(logits, b.Labels)
		if err != nil {
			return err
		}

		t.Optimizer.ZeroGrad()
		if err := t.Model.Backward(grad); err != nil {
			return err
		}
		t.Optimizer.Step()
		steps++

		lossSum += loss * float64(b.Size())
		correct += nn.Correct(logits, b.Labels)
		seen += b.Size()

		return nil
	})
	if err != nil {
		return 0, 0, steps, err
	}
	if seen == 0 {
		return 0, 0, steps, errors.New("Empty training set")
	}

	return lossSum / float64(seen), float64(correct) / float64(seen), steps, nil
}

func (t *Trainer) validEpoch(ctx context.Context, epoch int) (float64, float64, error) {
	var (
		lossSum float64
		correct int
		seen    int
	)

	err := t.Valid.Each(ctx, epoch, func(b Batch) error {
		logits, err := t.Model.Forward(b.Inputs)
		if err != nil {
			return err
		}

		loss, _, err := t.Loss.Forward(logits, b.Labels)
		if err != nil {
			return err
		}

		lossSum += loss * float64(b.Size())
		correct += nn.Correct(logits, b.Labels)
		seen += b.Size()

		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if seen == 0 {
		return 0, 0, errors.New("Empty validation set")
	}

	return lossSum / float64(seen), float64(correct) / float64(seen), nil
}
