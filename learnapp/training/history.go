package training

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// EpochLogs epoch 결과
type EpochLogs struct {
	Epoch        int           `json:"epoch" yaml:"epoch"`
	TrainLoss    float64       `json:"trainLoss" yaml:"trainLoss"`
	TrainAcc     float64       `json:"trainAccuracy" yaml:"trainAccuracy"`
	ValidLoss    float64       `json:"validationLoss" yaml:"validationLoss"`
	ValidAcc     float64       `json:"validationAccuracy" yaml:"validationAccuracy"`
	LR           float64       `json:"lr" yaml:"lr"`
	Steps        int           `json:"steps" yaml:"steps"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	Checkpointed bool          `json:"checkpointed" yaml:"checkpointed"`
}

// Value 이름으로 지표 조회
func (l *EpochLogs) Value(name string) (float64, error) {
	switch name {
	case "train_loss":
		return l.TrainLoss, nil
	case "train_acc":
		return l.TrainAcc, nil
	case "valid_loss":
		return l.ValidLoss, nil
	case "valid_acc":
		return l.ValidAcc, nil
	default:
		return 0, errors.Errorf("Unknown metric: %s", name)
	}
}

func lowerIsBetter(metric string) bool {
	return strings.HasSuffix(metric, "_loss")
}

// History 학습 전체 기록
type History struct {
	Epochs           []EpochLogs `json:"epochs"`
	Steps            int         `json:"steps"`
	ValidationPasses int         `json:"validationPasses"`
}

// Last 마지막 epoch
func (h *History) Last() (EpochLogs, bool) {
	if len(h.Epochs) == 0 {
		return EpochLogs{}, false
	}
	return h.Epochs[len(h.Epochs)-1], true
}

// Series metric 의 epoch 별 값
func (h *History) Series(metric string) ([]float64, error) {
	out := make([]float64, 0, len(h.Epochs))
	for i := range h.Epochs {
		v, err := h.Epochs[i].Value(metric)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Progress epoch 마다 표 형식으로 한 줄 출력. Checkpoint 뒤에 등록해야 cp 열이 채워짐
type Progress struct {
	BaseCallback
	Out io.Writer
}

const progressHeader = "  epoch    train_loss    valid_acc    valid_loss    cp      lr      dur"

// OnTrainBegin 표 머리 출력
func (p *Progress) OnTrainBegin(*Trainer) error {
	_, err := fmt.Fprintf(p.Out, "%s\n%s\n", progressHeader, strings.Repeat("-", len(progressHeader)))
	return err
}

// OnEpochEnd 표 한 줄 출력
func (p *Progress) OnEpochEnd(_ *Trainer, l *EpochLogs) error {
	cp := ""
	if l.Checkpointed {
		cp = "+"
	}

	_, err := fmt.Fprintf(p.Out, "%7d    %10.4f    %9.4f    %10.4f    %2s  %.4f  %7.4f\n",
		l.Epoch, l.TrainLoss, l.ValidAcc, l.ValidLoss, cp, l.LR, l.Duration.Seconds())
	return err
}
