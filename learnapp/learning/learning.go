package learning

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/config"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/constants"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/data"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/pipeline"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/training"
)

// RunFunc 학습 실행 함수
type RunFunc func(ctx context.Context, cfg config.AppConfig, opts pipeline.Options, logger *zap.Logger) (*pipeline.Result, error)

// Config 학습 관리자 설정정보
type Config struct {
	App      config.AppConfig
	Recorder *data.Manager
	Logger   *zap.Logger

	// Run 이 없으면 pipeline.Run
	Run RunFunc
}

// Learning 모델 학습 작업 관리
type Learning struct {
	jobs    map[string]*job
	rwMutex sync.RWMutex

	cfg      config.AppConfig
	run      RunFunc
	recorder *data.Manager
	logger   *zap.Logger
	client   *resty.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const (
	jobStatusLearn    = "learning"
	jobStatusDone     = "done"
	jobStatusExported = "exported"
	jobStatusFailed   = "failed"
)

type job struct {
	id       string
	model    string
	req      CreateRequest
	epochs   int
	status   string
	err      error
	result   *pipeline.Result
	createAt time.Time
	finishAt time.Time
	notified bool
	cancel   context.CancelFunc
}

// CreateRequest 모델 생성 요청
type CreateRequest struct {
	// Image root path for training
	ImagePath string `json:"imagePath"`

	// Model meta information
	ModelPath   string `json:"modelPath" binding:"required"`
	ConfigFile  string `json:"configFile"`
	Description string `json:"desc"`

	Epochs int `json:"epochs"`

	Trial bool `json:"trial"`
}

// OperateRequest 학습 완료 후 clsapp 에 보내는 요청
type OperateRequest struct {
	ModelPath string `json:"modelPath"`
}

// CreateModel 학습 작업 시작. 학습은 background 로 진행
func (l *Learning) CreateModel(model string, req CreateRequest) (map[string]interface{}, error) {
	if model == "" {
		return nil, errors.New("Empty model name")
	}
	if req.ModelPath == "" {
		return nil, errors.New("Empty model path")
	}
	if req.ConfigFile != "" && filepath.Clean(req.ConfigFile) != filepath.Join(req.ModelPath, constants.ConfigFile) {
		return nil, errors.Errorf("Config file must be %s in model path: %s", constants.ConfigFile, req.ConfigFile)
	}

	epochs := l.cfg.Train.Epochs
	if req.Trial {
		epochs = 1
	} else if req.Epochs > 0 {
		epochs = req.Epochs
	}

	ctx, cancel := context.WithCancel(l.ctx)
	j := &job{
		id:       uuid.New().String(),
		model:    model,
		req:      req,
		epochs:   epochs,
		status:   jobStatusLearn,
		createAt: time.Now(),
		cancel:   cancel,
	}

	l.rwMutex.Lock()
	if old, ok := l.jobs[model]; ok && old.status == jobStatusLearn {
		l.rwMutex.Unlock()
		cancel()
		return nil, errors.Errorf("Currently in learning: %s", model)
	}
	l.jobs[model] = j
	l.rwMutex.Unlock()

	l.wg.Add(1)
	go l.learn(ctx, j)

	return map[string]interface{}{
		"model":  model,
		"run":    j.id,
		"epochs": epochs,
		"status": jobStatusLearn,
	}, nil
}

func (l *Learning) learn(ctx context.Context, j *job) {
	defer l.wg.Done()
	defer j.cancel()

	logger := l.logger.With(zap.String("job", j.id))

	res, err := l.run(ctx, l.cfg, pipeline.Options{
		Model:       j.model,
		Description: j.req.Description,
		ImagePath:   j.req.ImagePath,
		ModelPath:   j.req.ModelPath,
		Checkpoint:  filepath.Join(j.req.ModelPath, constants.CheckpointFile),
		Epochs:      j.epochs,
		Recorder:    l.recorder,
	}, logger)

	// clsapp 은 읽지 못한 모델 경로를 지우므로 SavedModel 이 있을 때만 알림
	status := jobStatusDone
	notified := false
	switch {
	case err != nil:
		status = jobStatusFailed
		logger.Error("Learning failed", zap.String("model", j.model), zap.Error(err))
	case res == nil || !res.Servable:
		status = jobStatusExported
		logger.Info("Model exported without SavedModel, skip notify",
			zap.String("model", j.model),
			zap.String("modelPath", j.req.ModelPath))
	default:
		if nerr := l.notify(ctx, j.model, j.req.ModelPath); nerr != nil {
			logger.Warn("Fail to notify model", zap.String("model", j.model), zap.Error(nerr))
		} else {
			notified = true
		}
	}

	l.rwMutex.Lock()
	defer l.rwMutex.Unlock()

	j.result = res
	j.err = err
	j.notified = notified
	j.finishAt = time.Now()
	j.status = status
}

// notify clsapp 에 학습 된 모델 경로 전달
func (l *Learning) notify(ctx context.Context, model, modelPath string) error {
	url := fmt.Sprintf("http://%s/models/%s", l.cfg.Server.ClsHost, model)

	res, err := l.client.R().
		SetContext(ctx).
		SetBody(OperateRequest{ModelPath: modelPath}).
		Put(url)
	if err != nil {
		return err
	}
	if res.IsError() {
		return errors.Errorf("%s: %s", url, res.Status())
	}

	return nil
}

// GetModels 학습 작업이 있는 모델 목록
func (l *Learning) GetModels() []string {
	l.rwMutex.RLock()
	defer l.rwMutex.RUnlock()

	var models []string
	for model := range l.jobs {
		models = append(models, model)
	}

	return models
}

// GetModel 모델의 마지막 학습 작업 정보. verbose 이면 epoch 기록 포함
func (l *Learning) GetModel(model string, verbose bool) map[string]interface{} {
	l.rwMutex.RLock()
	defer l.rwMutex.RUnlock()

	j, ok := l.jobs[model]
	if !ok {
		return nil
	}

	info := map[string]interface{}{
		"model":     j.model,
		"run":       j.id,
		"status":    j.status,
		"epochs":    j.epochs,
		"modelPath": j.req.ModelPath,
		"trial":     j.req.Trial,
		"createAt":  j.createAt,
	}

	if !j.finishAt.IsZero() {
		info["finishAt"] = j.finishAt
		info["notified"] = j.notified
	}
	if j.err != nil {
		info["error"] = j.err.Error()
	}
	if j.result != nil {
		info["classes"] = j.result.Classes
		if j.result.RunID != "" {
			info["recordId"] = j.result.RunID
		}
		if h := j.result.History; h != nil {
			if last, ok := h.Last(); ok {
				info["last"] = last
			}
			if verbose {
				info["history"] = h.Epochs
			}
		}
	}

	return info
}

// History 모델의 마지막 학습 기록
func (l *Learning) History(model string) (*training.History, error) {
	l.rwMutex.RLock()
	defer l.rwMutex.RUnlock()

	j, ok := l.jobs[model]
	if !ok {
		return nil, errors.Errorf("No such model: %s", model)
	}
	if j.result == nil || j.result.History == nil {
		return nil, errors.Errorf("No history yet: %s", model)
	}

	return j.result.History, nil
}

// CancelModel 진행 중인 학습 취소
func (l *Learning) CancelModel(model string) error {
	l.rwMutex.RLock()
	defer l.rwMutex.RUnlock()

	j, ok := l.jobs[model]
	if !ok {
		return errors.Errorf("No such model: %s", model)
	}
	if j.status != jobStatusLearn {
		return errors.Errorf("Not in learning: %s (%s)", model, j.status)
	}

	j.cancel()
	return nil
}

// Wait 진행 중인 모든 학습이 끝날 때까지 대기
func (l *Learning) Wait() {
	l.wg.Wait()
}

// Destroy 진행 중인 학습을 취소하고 종료 대기
func (l *Learning) Destroy() {
	l.cancel()
	l.wg.Wait()
}

// New 학습 관리자 생성
func New(c Config) *Learning {
	ctx, cancel := context.WithCancel(context.Background())

	l := &Learning{
		jobs:     make(map[string]*job),
		cfg:      c.App,
		run:      c.Run,
		recorder: c.Recorder,
		logger:   c.Logger,
		client:   resty.New().SetTimeout(10 * time.Second),
		ctx:      ctx,
		cancel:   cancel,
	}

	if l.run == nil {
		l.run = pipeline.Run
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}

	return l
}
