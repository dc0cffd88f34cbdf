package training

import (
	"context"
	"image"
	"math/rand"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/tensor"
)

// Dataset index 로 이미지와 label 을 반환
type Dataset interface {
	Len() int
	Get(idx int) (image.Image, int, error)
}

// Transform 이미지를 입력 텐서로 변환
type Transform interface {
	Run(img image.Image, rng *rand.Rand) (*tensor.Tensor, error)
}

// Batch 쌓인 입력과 label
type Batch struct {
	Inputs  *tensor.Tensor
	Labels  []int
	Indices []int
}

// Size batch 의 sample 수
func (b Batch) Size() int {
	return len(b.Labels)
}

// DataLoader mini-batch 단위 로딩. sample 로딩과 변환은 Workers 개의 goroutine 이 나눠 처리
type DataLoader struct {
	Dataset   Dataset
	Transform Transform
	BatchSize int
	Shuffle   bool
	Workers   int
	Seed      int64
}

// Len epoch 당 batch 수
func (dl *DataLoader) Len() int {
	return (dl.Dataset.Len() + dl.BatchSize - 1) / dl.BatchSize
}

func (dl *DataLoader) workers() int {
	if dl.Workers <= 0 {
		return 1
	}
	return dl.Workers
}

// Order epoch 의 sample 순서. 같은 Seed, epoch 이면 같은 순서
func (dl *DataLoader) Order(epoch int) []int {
	order := make([]int, dl.Dataset.Len())
	for i := range order {
		order[i] = i
	}

	if dl.Shuffle {
		rng := rand.New(rand.NewSource(dl.Seed + int64(epoch)))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	return order
}

func (dl *DataLoader) sampleSeed(epoch, idx int) int64 {
	return dl.Seed + int64(epoch)*1000003 + int64(idx)*7919
}

// Each 순서대로 batch 마다 fn 을 호출. 다음 batch 는 fn 실행 중에 미리 로딩
func (dl *DataLoader) Each(ctx context.Context, epoch int, fn func(Batch) error) error {
	if dl.BatchSize <= 0 {
		return errors.Errorf("Invalid batch size: %d", dl.BatchSize)
	}

	order := dl.Order(epoch)
	batches := make(chan Batch, 1)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(batches)

		for start := 0; start < len(order); start += dl.BatchSize {
			end := start + dl.BatchSize
			if end > len(order) {
				end = len(order)
			}

			b, err := dl.load(ctx, epoch, order[start:end])
			if err != nil {
				return err
			}

			select {
			case batches <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	})

	g.Go(func() error {
		for b := range batches {
			if err := fn(b); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

func (dl *DataLoader) load(ctx context.Context, epoch int, indices []int) (Batch, error) {
	inputs := make([]*tensor.Tensor, len(indices))
	labels := make([]int, len(indices))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(dl.workers())

	for i, idx := range indices {
		i, idx := i, idx
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			img, label, err := dl.Dataset.Get(idx)
			if err != nil {
				return err
			}

			x, err := dl.Transform.Run(img, rand.New(rand.NewSource(dl.sampleSeed(epoch, idx))))
			if err != nil {
				return errors.Wrapf(err, "Fail to transform sample %d", idx)
			}

			inputs[i] = x
			labels[i] = label

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Batch{}, err
	}

	x, err := tensor.Stack(inputs)
	if err != nil {
		return Batch{}, err
	}

	return Batch{
		Inputs:  x,
		Labels:  labels,
		Indices: append([]int(nil), indices...),
	}, nil
}
