package export

import (
	"bufio"
	"io"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/constants"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/training"
)

const (
	binaryClass = "binary"
	multiClass  = "multi"

	modelType = "finetune"
)

// TrainingResult epoch 별 학습 결과
type TrainingResult struct {
	Epochs             int       `yaml:"epochs"`
	BestEpoch          int       `yaml:"bestEpoch"`
	TrainLoss          []float32 `yaml:"trainLoss"`
	TrainAccuracy      []float32 `yaml:"trainAccuracy"`
	ValidationLoss     []float32 `yaml:"validationLoss"`
	ValidationAccuracy []float32 `yaml:"validationAccuracy"`
	LearningRate       []float32 `yaml:"learningRate"`
}

// ModelConfig clsapp 이 읽는 모델 설정
type ModelConfig struct {
	Name                string         `yaml:"name"`
	Type                string         `yaml:"type"`
	Tags                []string       `yaml:"tags"`
	Classification      string         `yaml:"classification"`
	InputShape          []int32        `yaml:"inputShape"`
	InputOperationName  string         `yaml:"inputOperationName"`
	OutputOperationName string         `yaml:"outputOperationName"`
	LabelsFile          string         `yaml:"labelsFile"`
	Backbone            string         `yaml:"backbone"`
	CheckpointFile      string         `yaml:"checkpointFile"`
	Mean                []float32      `yaml:"mean"`
	Std                 []float32      `yaml:"std"`
	TrainingResult      TrainingResult `yaml:"trainingResult"`
	Description         string         `yaml:"description"`
}

// Model 내보낼 학습 결과
type Model struct {
	Name        string
	Description string
	Backbone    string
	Tags        []string
	InputOp     string
	OutputOp    string
	Size        int
	Classes     []string
	Checkpoint  string
	History     *training.History
}

// Write dir 에 config.yaml, labels 파일, checkpoint 를 기록하고 config.yaml 경로를 반환
func Write(dir string, m Model) (string, error) {
	if m.Name == "" {
		return "", errors.New("Empty model name")
	}
	if len(m.Classes) < 2 {
		return "", errors.Errorf("Invalid classes: %v", m.Classes)
	}

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}

	if err := writeLabels(path.Join(dir, constants.LabelsFile), m.Classes); err != nil {
		return "", err
	}

	if cp := path.Join(dir, constants.CheckpointFile); m.Checkpoint != "" && filepath.Clean(m.Checkpoint) != cp {
		if err := copyFile(m.Checkpoint, cp); err != nil {
			return "", errors.Wrap(err, "Fail to copy checkpoint")
		}
	}

	cfg := ModelConfig{
		Name:                m.Name,
		Type:                modelType,
		Tags:                m.Tags,
		Classification:      multiClass,
		InputShape:          []int32{int32(m.Size), int32(m.Size), 3},
		InputOperationName:  m.InputOp,
		OutputOperationName: m.OutputOp,
		LabelsFile:          constants.LabelsFile,
		Backbone:            m.Backbone,
		CheckpointFile:      constants.CheckpointFile,
		Mean:                constants.Mean[:],
		Std:                 constants.Std[:],
		TrainingResult:      result(m.History),
		Description:         m.Description,
	}
	if len(m.Classes) == 2 {
		cfg.Classification = binaryClass
	}

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", err
	}

	configFile := path.Join(dir, constants.ConfigFile)
	if err := ioutil.WriteFile(configFile, out, 0644); err != nil {
		return "", err
	}

	return configFile, nil
}

// Servable clsapp 이 tf.LoadSavedModel 로 읽을 수 있는 SavedModel 이 dir 에 있는지 여부
func Servable(dir string) bool {
	info, err := os.Stat(path.Join(dir, constants.SavedModelFile))
	return err == nil && info.Mode().IsRegular()
}

// Read config.yaml 읽기
func Read(configFile string) (ModelConfig, error) {
	var cfg ModelConfig

	data, err := ioutil.ReadFile(configFile)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "Invalid model config: %s", configFile)
	}

	return cfg, nil
}

// ReadLabels labels 파일 읽기
func ReadLabels(labelsFile string) ([]string, error) {
	f, err := os.Open(labelsFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if l := strings.TrimSpace(scanner.Text()); l != "" {
			labels = append(labels, l)
		}
	}

	return labels, scanner.Err()
}

func result(h *training.History) TrainingResult {
	var r TrainingResult
	if h == nil {
		return r
	}

	r.Epochs = len(h.Epochs)
	for _, e := range h.Epochs {
		r.TrainLoss = append(r.TrainLoss, float32(e.TrainLoss))
		r.TrainAccuracy = append(r.TrainAccuracy, float32(e.TrainAcc))
		r.ValidationLoss = append(r.ValidationLoss, float32(e.ValidLoss))
		r.ValidationAccuracy = append(r.ValidationAccuracy, float32(e.ValidAcc))
		r.LearningRate = append(r.LearningRate, float32(e.LR))

		if e.Checkpointed {
			r.BestEpoch = e.Epoch
		}
	}

	return r
}

func writeLabels(labelsFile string, classes []string) error {
	f, err := os.Create(labelsFile)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, c := range classes {
		if _, err := w.WriteString(c + "\n"); err != nil {
			return err
		}
	}

	return w.Flush()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
