package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/constants"
)

// DatasetConfig 학습 이미지 archive 설정
type DatasetConfig struct {
	URL     string        `koanf:"url"`
	Root    string        `koanf:"root"`
	Dir     string        `koanf:"dir"`
	Timeout time.Duration `koanf:"timeout"`
}

// TransformConfig 이미지 변환 설정
type TransformConfig struct {
	Size   int `koanf:"size"`
	Resize int `koanf:"resize"`
}

// TrainConfig 학습 hyperparameter
type TrainConfig struct {
	LR           float64 `koanf:"lr"`
	Momentum     float64 `koanf:"momentum"`
	WeightDecay  float64 `koanf:"weightdecay"`
	BatchSize    int     `koanf:"batchsize"`
	Epochs       int     `koanf:"epochs"`
	Workers      int     `koanf:"workers"`
	ValidShuffle bool    `koanf:"validshuffle"`
	Seed         int64   `koanf:"seed"`
	FreezePrefix string  `koanf:"freezeprefix"`
	StepLR       struct {
		StepSize int     `koanf:"stepsize"`
		Gamma    float64 `koanf:"gamma"`
	} `koanf:"steplr"`
}

// SavedModelConfig TensorFlow SavedModel backbone 설정
type SavedModelConfig struct {
	Dir        string   `koanf:"dir"`
	Tags       []string `koanf:"tags"`
	InputOp    string   `koanf:"inputop"`
	FeatureOp  string   `koanf:"featureop"`
	FeatureDim int      `koanf:"featuredim"`
}

// ModelConfig backbone 설정
type ModelConfig struct {
	Backbone   string           `koanf:"backbone"`
	Weights    string           `koanf:"weights"`
	SavedModel SavedModelConfig `koanf:"savedmodel"`
}

// ServerConfig learnapp 서버 설정
type ServerConfig struct {
	Port    int    `koanf:"port"`
	ClsHost string `koanf:"clshost"`
	Models  string `koanf:"models"`
}

// DatabaseConfig 학습 기록 DB 설정
type DatabaseConfig struct {
	Enabled bool   `koanf:"enabled"`
	DSN     string `koanf:"dsn"`
	Table   string `koanf:"table"`
}

// AppConfig learnapp 전체 설정. Load 이후 변경하지 않음
type AppConfig struct {
	Dataset    DatasetConfig   `koanf:"dataset"`
	Transform  TransformConfig `koanf:"transform"`
	Train      TrainConfig     `koanf:"train"`
	Model      ModelConfig     `koanf:"model"`
	Checkpoint struct {
		Path string `koanf:"path"`
	} `koanf:"checkpoint"`
	Device   string         `koanf:"device"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Debug    bool           `koanf:"debug"`
}

const (
	// BackboneProjection pure Go projection backbone
	BackboneProjection = "projection"
	// BackboneSavedModel TensorFlow SavedModel backbone
	BackboneSavedModel = "savedmodel"
)

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"dataset.url":                constants.DatasetURL,
		"dataset.root":               constants.DataPath,
		"dataset.dir":                constants.DatasetDir,
		"dataset.timeout":            constants.DatasetTimeout.String(),
		"transform.size":             constants.CropSize,
		"transform.resize":           constants.ResizeSize,
		"train.lr":                   constants.LearningRate,
		"train.momentum":             constants.Momentum,
		"train.weightdecay":          0.0,
		"train.batchsize":            constants.BatchSize,
		"train.epochs":               constants.TrainEpochs,
		"train.workers":              constants.NumWorkers,
		"train.validshuffle":         true,
		"train.seed":                 constants.Seed,
		"train.freezeprefix":         constants.FreezePrefix,
		"train.steplr.stepsize":      constants.StepSize,
		"train.steplr.gamma":         constants.Gamma,
		"model.backbone":             BackboneProjection,
		"model.weights":              "",
		"model.savedmodel.tags":      []string{"serve"},
		"model.savedmodel.inputop":   "input",
		"model.savedmodel.featureop": "features",
		"checkpoint.path":            constants.CheckpointFile,
		"device":                     "cpu",
		"server.port":                constants.ServerPort,
		"server.clshost":             constants.ClsHost,
		"server.models":              constants.ModelsPath,
		"database.enabled":           false,
		"database.dsn":               "user1:password1@tcp(db:3306)/learn_db?parseTime=true",
		"database.table":             "run_tab",
		"debug":                      false,
	}
}

// Load 기본값, 설정 파일(filePath, 생략 가능), CFG_ 환경변수 순으로 설정을 읽음
func Load(filePath string) (AppConfig, error) {
	var cfg AppConfig

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return cfg, errors.Wrap(err, "Fail to load default config")
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return cfg, errors.Wrapf(err, "Fail to load config file: %s", filePath)
		}
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, interface{}) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return cfg, errors.Wrap(err, "Fail to load env config")
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "Fail to decode config")
	}

	return cfg, Validate(cfg)
}

// Validate 학습 설정 검증
func Validate(cfg AppConfig) error {
	switch {
	case cfg.Train.LR <= 0:
		return errors.Errorf("Invalid learning rate: %v", cfg.Train.LR)
	case cfg.Train.Momentum < 0 || cfg.Train.Momentum >= 1:
		return errors.Errorf("Invalid momentum: %v", cfg.Train.Momentum)
	case cfg.Train.BatchSize <= 0:
		return errors.Errorf("Invalid batch size: %d", cfg.Train.BatchSize)
	case cfg.Train.Epochs <= 0:
		return errors.Errorf("Invalid epochs: %d", cfg.Train.Epochs)
	case cfg.Train.StepLR.StepSize <= 0:
		return errors.Errorf("Invalid step size: %d", cfg.Train.StepLR.StepSize)
	case cfg.Train.StepLR.Gamma <= 0 || cfg.Train.StepLR.Gamma > 1:
		return errors.Errorf("Invalid gamma: %v", cfg.Train.StepLR.Gamma)
	case cfg.Transform.Size <= 0 || cfg.Transform.Resize < cfg.Transform.Size:
		return errors.Errorf("Invalid transform size: %d/%d", cfg.Transform.Size, cfg.Transform.Resize)
	case cfg.Model.Backbone != BackboneProjection && cfg.Model.Backbone != BackboneSavedModel:
		return errors.Errorf("Unknown backbone: %s", cfg.Model.Backbone)
	}

	return nil
}
