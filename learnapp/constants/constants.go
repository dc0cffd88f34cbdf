package constants

import "time"

const (
	DefaultModelName string = "default"

	ModelsPath string = "/learn/models"
	DataPath   string = "/learn/data"

	DatasetURL     string        = "https://download.pytorch.org/tutorial/hymenoptera_data.zip"
	DatasetDir     string        = "hymenoptera_data"
	DatasetTimeout time.Duration = 60 * time.Second

	TrainSplit string = "train"
	ValidSplit string = "val"
	ValidEvery int    = 5

	CheckpointFile string = "best_model.json"
	ConfigFile     string = "config.yaml"
	LabelsFile     string = "labels.txt"
	SavedModelFile string = "saved_model.pb"

	CropSize   int = 224
	ResizeSize int = 256

	LearningRate float64 = 0.001
	Momentum     float64 = 0.9
	BatchSize    int     = 4
	TrainEpochs  int     = 25
	NumWorkers   int     = 4
	Seed         int64   = 42

	StepSize int     = 7
	Gamma    float64 = 0.1

	FreezePrefix string = "fc"
	Monitor      string = "valid_acc"

	ServerPort int    = 18090
	ClsHost    string = "clsapp:18080"
)

// ImageNet 으로 사전학습 된 backbone 의 입력 정규화 값
var (
	Mean = [3]float32{0.485, 0.456, 0.406}
	Std  = [3]float32{0.229, 0.224, 0.225}
)
