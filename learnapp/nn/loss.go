package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

// CrossEntropy log-softmax 와 NLL. batch 평균
type CrossEntropy struct{}

// Forward 평균 손실과 logits 에 대한 gradient 반환
func (CrossEntropy) Forward(logits *tensor.Tensor, labels []int) (float64, *tensor.Tensor, error) {
	if len(logits.Shape) != 2 || logits.Shape[0] != len(labels) {
		return 0, nil, errors.Errorf("Logits %v do not match %d labels", logits.Shape, len(labels))
	}

	batch, classes := logits.Shape[0], logits.Shape[1]
	grad := tensor.New(batch, classes)

	var loss float64
	for n := 0; n < batch; n++ {
		label := labels[n]
		if label < 0 || label >= classes {
			return 0, nil, errors.Errorf("Label %d out of range [0, %d)", label, classes)
		}

		row := logits.Row(n)
		probs := softmax(row)
		loss -= math.Log(math.Max(probs[label], 1e-12))

		gr := grad.Row(n)
		for c, p := range probs {
			if c == label {
				p--
			}
			gr[c] = float32(p / float64(batch))
		}
	}

	return loss / float64(batch), grad, nil
}

func softmax(row []float32) []float64 {
	hi := math.Inf(-1)
	for _, v := range row {
		hi = math.Max(hi, float64(v))
	}

	out := make([]float64, len(row))
	var sum float64
	for i, v := range row {
		out[i] = math.Exp(float64(v) - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}

	return out
}

// Argmax 각 행의 최대값 index
func Argmax(logits *tensor.Tensor) []int {
	preds := make([]int, logits.Rows())
	for n := range preds {
		row := logits.Row(n)
		best := 0
		for c, v := range row {
			if v > row[best] {
				best = c
			}
		}
		preds[n] = best
	}
	return preds
}

// Correct 예측이 맞은 수
func Correct(logits *tensor.Tensor, labels []int) int {
	n := 0
	for i, p := range Argmax(logits) {
		if p == labels[i] {
			n++
		}
	}
	return n
}
