package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	// mysql driver
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

const timeLayout = "2006-01-02 15:04:05"

// Config DBconn config
type Config struct {
	DriverName string
	ConnInfo   string

	TableName string
}

// DBconn db 연결정보
type DBconn struct {
	DriverName string
	ConnInfo   string

	TableName string

	db *sql.DB
}

// Run 학습 실행 항목
type Run struct {
	ID        string
	Model     string
	Backbone  string
	Classes   []string
	Epochs    int
	Status    string
	Monitor   string
	BestValue float64
	CreateAt  time.Time
	FinishAt  time.Time
}

// Epoch epoch 결과 항목
type Epoch struct {
	RunID     string
	Epoch     int
	TrainLoss float64
	TrainAcc  float64
	ValidLoss float64
	ValidAcc  float64
	LR        float64
	Saved     bool
}

// EpochTable epoch 결과 table 이름
func (conn *DBconn) EpochTable() string {
	return conn.TableName + "_epoch"
}

func (conn *DBconn) createTables() error {
	if _, err := conn.db.Exec(fmt.Sprintf(`CREATE TABLE %s (
		id CHAR(36) NOT NULL PRIMARY KEY,
		model VARCHAR(255) NOT NULL,
		backbone VARCHAR(255) NOT NULL,
		classes VARCHAR(255) NOT NULL,
		epochs INT NOT NULL,
		status CHAR(10) NOT NULL,
		monitor CHAR(20) NOT NULL,
		best DOUBLE NOT NULL,
		createAt DATETIME NOT NULL,
		finishAt DATETIME NULL);`, conn.TableName)); err != nil {
		return err
	}

	if _, err := conn.db.Exec(fmt.Sprintf(`CREATE TABLE %s (
		run CHAR(36) NOT NULL,
		epoch INT NOT NULL,
		trainLoss DOUBLE NOT NULL,
		trainAcc DOUBLE NOT NULL,
		validLoss DOUBLE NOT NULL,
		validAcc DOUBLE NOT NULL,
		lr DOUBLE NOT NULL,
		saved BOOL NOT NULL,
		PRIMARY KEY (run, epoch));`, conn.EpochTable())); err != nil {
		return err
	}

	return nil
}

func (conn *DBconn) existsTable() bool {
	rows, err := conn.db.Query(fmt.Sprintf("SELECT 1 FROM %s LIMIT 1;", conn.TableName))
	if err != nil {
		return false
	}
	rows.Close()

	return true
}

func (conn *DBconn) initTable() error {
	if !conn.existsTable() {
		return conn.createTables()
	}

	return nil
}

// InsertRun 학습 실행 삽입
func (conn *DBconn) InsertRun(run Run) error {
	_, err := conn.db.Exec(fmt.Sprintf(`INSERT INTO %s (
		id,
		model,
		backbone,
		classes,
		epochs,
		status,
		monitor,
		best,
		createAt) value (?, ?, ?, ?, ?, ?, ?, ?, ?);`, conn.TableName),
		run.ID, run.Model, run.Backbone, strings.Join(run.Classes, ","), run.Epochs,
		run.Status, run.Monitor, run.BestValue, run.CreateAt.Format(timeLayout),
	)

	return err
}

// InsertEpoch epoch 결과 삽입
func (conn *DBconn) InsertEpoch(e Epoch) error {
	_, err := conn.db.Exec(fmt.Sprintf(`INSERT INTO %s (
		run,
		epoch,
		trainLoss,
		trainAcc,
		validLoss,
		validAcc,
		lr,
		saved) value (?, ?, ?, ?, ?, ?, ?, ?);`, conn.EpochTable()),
		e.RunID, e.Epoch, e.TrainLoss, e.TrainAcc, e.ValidLoss, e.ValidAcc, e.LR, e.Saved,
	)

	return err
}

// FinishRun 학습 실행 종료 상태 갱신
func (conn *DBconn) FinishRun(id, status string, best float64, finishAt time.Time) (int64, error) {
	res, err := conn.db.Exec(fmt.Sprintf(
		"UPDATE %s SET status = ?, best = ?, finishAt = ? WHERE id = ?;", conn.TableName),
		status, best, finishAt.Format(timeLayout), id,
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// GetRuns model 의 학습 실행 조회. model 이 없으면 전체
func (conn *DBconn) GetRuns(model string) ([]Run, error) {
	var (
		query string
		args  []interface{}
	)

	query = fmt.Sprintf(`SELECT id, model, backbone, classes, epochs, status, monitor, best, createAt, finishAt
		FROM %s`, conn.TableName)
	if model != "" {
		query += " WHERE model = ?"
		args = append(args, model)
	}
	query += " ORDER BY createAt;"

	rows, err := conn.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			classes  string
			finishAt sql.NullTime
		)

		if err := rows.Scan(&run.ID, &run.Model, &run.Backbone, &classes, &run.Epochs,
			&run.Status, &run.Monitor, &run.BestValue, &run.CreateAt, &finishAt); err != nil {
			return nil, errors.Wrap(err, "Fail to scan run")
		}

		if classes != "" {
			run.Classes = strings.Split(classes, ",")
		}
		if finishAt.Valid {
			run.FinishAt = finishAt.Time
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// Destroy db connection 해제
func (conn *DBconn) Destroy() error {
	return conn.db.Close()
}

// New 새로운 db connection 생성
func New(cfg Config) (*DBconn, error) {
	db, err := sql.Open(cfg.DriverName, cfg.ConnInfo)
	if err != nil {
		return nil, err
	}

	conn, err := NewWithDB(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	return conn, nil
}

// NewWithDB 이미 열린 db 로 DBconn 생성
func NewWithDB(db *sql.DB, cfg Config) (*DBconn, error) {
	conn := &DBconn{
		DriverName: cfg.DriverName,
		ConnInfo:   cfg.ConnInfo,
		TableName:  cfg.TableName,
		db:         db,
	}

	if err := conn.initTable(); err != nil {
		return nil, errors.Wrapf(err, "Fail to init table %s", cfg.TableName)
	}

	return conn, nil
}
