package pipeline

import (
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/backbone"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/backbone/tfmodel"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/config"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/constants"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/data"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/dataset"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/device"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/export"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/nn"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/training"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/transform"
)

// Options 실행마다 달라지는 값
type Options struct {
	// Model 모델 이름
	Model       string
	Description string

	// ImagePath 가 있으면 내려받지 않고 그 경로의 train/val 을 사용
	ImagePath string
	// ModelPath 가 있으면 학습 결과를 clsapp 이 읽을 수 있는 형태로 기록
	ModelPath string
	// Checkpoint 가 있으면 설정의 checkpoint 경로 대신 사용
	Checkpoint string
	// Epochs 가 0 보다 크면 설정의 epoch 수 대신 사용
	Epochs int

	Progress io.Writer
	Recorder *data.Manager
}

// Result 학습 결과
type Result struct {
	Model      string
	RunID      string
	Classes    []string
	Checkpoint string
	ConfigFile string
	History    *training.History

	// Servable 이면 ModelPath 를 clsapp 이 바로 읽을 수 있음
	Servable bool
}

// Run 데이터 준비, 변환, 모델 조립, 학습 순으로 실행
func Run(ctx context.Context, cfg config.AppConfig, opts Options, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Model == "" {
		opts.Model = constants.DefaultModelName
	}
	logger = logger.With(zap.String("model", opts.Model))

	// 장치는 dataset 을 내려받기 전에 확인
	requested, err := device.Parse(cfg.Device)
	if err != nil {
		return nil, err
	}

	pre, err := LoadBackbone(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer pre.Backbone.Close()

	if err := device.Check(requested, pre.Backbone); err != nil {
		return nil, err
	}

	root := opts.ImagePath
	if root == "" {
		if root, err = dataset.Ensure(ctx, dataset.Source{
			URL:     cfg.Dataset.URL,
			Root:    cfg.Dataset.Root,
			Dir:     cfg.Dataset.Dir,
			Timeout: cfg.Dataset.Timeout,
		}, logger); err != nil {
			return nil, err
		}
	}

	trainSet, validSet, err := loadSplits(root)
	if err != nil {
		return nil, err
	}
	if !sameClasses(trainSet.Classes, validSet.Classes) {
		return nil, errors.Errorf("Class mismatch: train %v, val %v", trainSet.Classes, validSet.Classes)
	}
	logger.Info("Dataset loaded",
		zap.String("path", root),
		zap.Strings("classes", trainSet.Classes),
		zap.Int("train", trainSet.Len()),
		zap.Int("val", validSet.Len()))

	model, err := backbone.Assemble(pre, trainSet.Classes, rand.New(rand.NewSource(cfg.Train.Seed)))
	if err != nil {
		return nil, err
	}

	epochs := cfg.Train.Epochs
	if opts.Epochs > 0 {
		epochs = opts.Epochs
	}

	cpPath := cfg.Checkpoint.Path
	if opts.Checkpoint != "" {
		cpPath = opts.Checkpoint
	}
	if dir := filepath.Dir(cpPath); dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, err
		}
	}

	cp := training.NewCheckpoint(cpPath, constants.Monitor)
	callbacks := []training.Callback{
		training.FreezeAllBut(cfg.Train.FreezePrefix),
		&training.StepLR{StepSize: cfg.Train.StepLR.StepSize, Gamma: cfg.Train.StepLR.Gamma},
		cp,
	}

	result := &Result{
		Model:      opts.Model,
		Classes:    trainSet.Classes,
		Checkpoint: cpPath,
	}

	var rec *data.Recorder
	if opts.Recorder != nil {
		rec = opts.Recorder.NewRecorder(opts.Model, pre.Backbone.Name(), constants.Monitor, trainSet.Classes)
		result.RunID = rec.RunID
		callbacks = append(callbacks, rec)
	}
	if opts.Progress != nil {
		callbacks = append(callbacks, &training.Progress{Out: opts.Progress})
	}

	trainer := &training.Trainer{
		Model:     model,
		Optimizer: nn.NewSGD(model.NamedParameters(), cfg.Train.LR, cfg.Train.Momentum, cfg.Train.WeightDecay),
		Train: &training.DataLoader{
			Dataset:   trainSet,
			Transform: transform.Train(cfg.Transform.Size),
			BatchSize: cfg.Train.BatchSize,
			Shuffle:   true,
			Workers:   cfg.Train.Workers,
			Seed:      cfg.Train.Seed,
		},
		Valid: &training.DataLoader{
			Dataset:   validSet,
			Transform: transform.Val(cfg.Transform.Resize, cfg.Transform.Size),
			BatchSize: cfg.Train.BatchSize,
			Shuffle:   cfg.Train.ValidShuffle,
			Workers:   cfg.Train.Workers,
			Seed:      cfg.Train.Seed + 1,
		},
		Epochs:    epochs,
		Callbacks: callbacks,
		Logger:    logger,
	}

	logger.Info("Training started",
		zap.String("backbone", pre.Backbone.Name()),
		zap.String("device", requested.String()),
		zap.Int("epochs", epochs),
		zap.Int("steps", trainer.Train.Len()*epochs))

	if result.History, err = trainer.Fit(ctx); err != nil {
		if rec != nil {
			if ferr := rec.Fail(); ferr != nil {
				logger.Warn("Fail to record failed run", zap.Error(ferr))
			}
		}
		return result, err
	}

	if best, ok := cp.Best(); ok {
		logger.Info("Training finished",
			zap.String("monitor", constants.Monitor),
			zap.Float64("best", best),
			zap.Int("saves", cp.Saves()),
			zap.String("checkpoint", cpPath))
	}

	if opts.ModelPath != "" {
		m := export.Model{
			Name:        opts.Model,
			Description: opts.Description,
			Backbone:    pre.Backbone.Name(),
			Size:        cfg.Transform.Size,
			Classes:     trainSet.Classes,
			Checkpoint:  cpPath,
			History:     result.History,
		}
		if cfg.Model.Backbone == config.BackboneSavedModel {
			m.Tags = cfg.Model.SavedModel.Tags
			m.InputOp = cfg.Model.SavedModel.InputOp
			m.OutputOp = cfg.Model.SavedModel.FeatureOp
		}

		if result.ConfigFile, err = export.Write(opts.ModelPath, m); err != nil {
			return result, errors.Wrap(err, "Fail to export model")
		}
		result.Servable = export.Servable(opts.ModelPath)
	}

	return result, nil
}

// LoadBackbone 설정의 사전학습 backbone 로드
func LoadBackbone(cfg config.AppConfig, logger *zap.Logger) (backbone.Pretrained, error) {
	switch cfg.Model.Backbone {
	case config.BackboneProjection:
		if cfg.Model.Weights == "" {
			logger.Warn("No pretrained weights, using random projection weights")
			return backbone.NewProjection(backbone.DefaultProjectionConfig, rand.New(rand.NewSource(cfg.Train.Seed)))
		}
		return backbone.LoadProjection(cfg.Model.Weights)
	case config.BackboneSavedModel:
		return tfmodel.Load(tfmodel.Config{
			Dir:        cfg.Model.SavedModel.Dir,
			Tags:       cfg.Model.SavedModel.Tags,
			InputOp:    cfg.Model.SavedModel.InputOp,
			FeatureOp:  cfg.Model.SavedModel.FeatureOp,
			FeatureDim: cfg.Model.SavedModel.FeatureDim,
		})
	default:
		return backbone.Pretrained{}, errors.Errorf("Unknown backbone: %s", cfg.Model.Backbone)
	}
}

// loadSplits train/val 디렉토리가 없으면 class 디렉토리의 이미지를 나눠 사용
func loadSplits(root string) (*dataset.ImageFolder, *dataset.ImageFolder, error) {
	if info, err := os.Stat(filepath.Join(root, constants.TrainSplit)); err != nil || !info.IsDir() {
		all, err := dataset.NewImageFolder(root, "")
		if err != nil {
			return nil, nil, err
		}
		return all.Split(constants.ValidEvery)
	}

	train, err := dataset.NewImageFolder(root, constants.TrainSplit)
	if err != nil {
		return nil, nil, err
	}
	valid, err := dataset.NewImageFolder(root, constants.ValidSplit)
	if err != nil {
		return nil, nil, err
	}

	return train, valid, nil
}

func sameClasses(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
