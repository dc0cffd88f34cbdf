package training

import (
	stderrors "errors"
	"strings"

	"go.uber.org/zap"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/nn"
)

// ErrNothingTrainable 모든 parameter 가 고정 됨
var ErrNothingTrainable = stderrors.New("no trainable parameter")

// Freezer 학습 시작 전 Match 가 true 인 parameter 를 고정
type Freezer struct {
	BaseCallback
	Match func(name string) bool
}

// FreezeAllBut prefix 로 시작하지 않는 모든 parameter 를 고정
func FreezeAllBut(prefix string) *Freezer {
	return &Freezer{
		Match: func(name string) bool {
			return !strings.HasPrefix(name, prefix)
		},
	}
}

// OnTrainBegin Callback 구현
func (f *Freezer) OnTrainBegin(t *Trainer) error {
	params := t.Model.NamedParameters()

	frozen := 0
	for _, p := range params {
		if f.Match(p.Name) {
			p.RequiresGrad = false
			frozen++
		}
	}

	trainable := nn.Trainable(params)
	if len(trainable) == 0 {
		return ErrNothingTrainable
	}

	t.logger().Info("Parameters frozen",
		zap.Int("frozen", frozen),
		zap.Strings("trainable", trainable))

	return nil
}
