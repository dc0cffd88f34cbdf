package data

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/data/db"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/training"
)

const (
	// StatusRunning 학습 중
	StatusRunning = "running"
	// StatusDone 학습 완료
	StatusDone = "done"
	// StatusFailed 학습 실패
	StatusFailed = "failed"
)

// Manager 학습 기록을 관리
type Manager struct {
	Conn   *db.DBconn
	Logger *zap.Logger
}

// New mysql 학습 기록 관리자 생성
func New(dsn, table string, logger *zap.Logger) (*Manager, error) {
	conn, err := db.New(db.Config{
		DriverName: "mysql",
		ConnInfo:   dsn,
		TableName:  table,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Fail to connect db")
	}

	return &Manager{Conn: conn, Logger: logger}, nil
}

// Runs model 의 학습 기록
func (dm *Manager) Runs(model string) ([]db.Run, error) {
	return dm.Conn.GetRuns(model)
}

// Destroy db 연결 해제
func (dm *Manager) Destroy() error {
	return dm.Conn.Destroy()
}

// NewRecorder 새 학습 실행을 기록하는 callback 생성
func (dm *Manager) NewRecorder(model, backbone, monitor string, classes []string) *Recorder {
	return &Recorder{
		RunID:    uuid.New().String(),
		Model:    model,
		Backbone: backbone,
		Monitor:  monitor,
		Classes:  classes,
		conn:     dm.Conn,
		logger:   dm.Logger,
	}
}

// Recorder 학습 실행과 epoch 결과를 db 에 기록하는 callback
type Recorder struct {
	training.BaseCallback

	RunID    string
	Model    string
	Backbone string
	Monitor  string
	Classes  []string

	conn   *db.DBconn
	logger *zap.Logger
	best   float64
}

// OnTrainBegin 학습 실행 등록
func (r *Recorder) OnTrainBegin(t *training.Trainer) error {
	if err := r.conn.InsertRun(db.Run{
		ID:       r.RunID,
		Model:    r.Model,
		Backbone: r.Backbone,
		Classes:  r.Classes,
		Epochs:   t.Epochs,
		Status:   StatusRunning,
		Monitor:  r.Monitor,
		CreateAt: time.Now(),
	}); err != nil {
		return errors.Wrapf(err, "Fail to record run %s", r.RunID)
	}

	return nil
}

// OnEpochEnd epoch 결과 기록
func (r *Recorder) OnEpochEnd(_ *training.Trainer, logs *training.EpochLogs) error {
	if v, err := logs.Value(r.Monitor); err == nil && logs.Checkpointed {
		r.best = v
	}

	if err := r.conn.InsertEpoch(db.Epoch{
		RunID:     r.RunID,
		Epoch:     logs.Epoch,
		TrainLoss: logs.TrainLoss,
		TrainAcc:  logs.TrainAcc,
		ValidLoss: logs.ValidLoss,
		ValidAcc:  logs.ValidAcc,
		LR:        logs.LR,
		Saved:     logs.Checkpointed,
	}); err != nil {
		return errors.Wrapf(err, "Fail to record epoch %d of %s", logs.Epoch, r.RunID)
	}

	return nil
}

// OnTrainEnd 학습 완료 기록
func (r *Recorder) OnTrainEnd(*training.Trainer, *training.History) error {
	return r.finish(StatusDone)
}

// Fail 중단 된 학습 기록
func (r *Recorder) Fail() error {
	return r.finish(StatusFailed)
}

func (r *Recorder) finish(status string) error {
	n, err := r.conn.FinishRun(r.RunID, status, r.best, time.Now())
	if err != nil {
		return errors.Wrapf(err, "Fail to finish run %s", r.RunID)
	}
	if n == 0 && r.logger != nil {
		r.logger.Warn("Run not recorded", zap.String("run", r.RunID))
	}

	return nil
}
