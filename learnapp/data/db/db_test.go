package db

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T, exists bool) (*DBconn, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	if exists {
		mock.ExpectQuery("SELECT 1 FROM run_tab LIMIT 1").
			WillReturnRows(sqlmock.NewRows([]string{"1"}))
	} else {
		mock.ExpectQuery("SELECT 1 FROM run_tab LIMIT 1").
			WillReturnError(errors.New("Table 'learn_db.run_tab' doesn't exist"))
		mock.ExpectExec("CREATE TABLE run_tab \\(").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("CREATE TABLE run_tab_epoch \\(").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	conn, err := NewWithDB(db, Config{DriverName: "mysql", TableName: "run_tab"})
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return conn, mock
}

func TestInitCreatesTables(t *testing.T) {
	_, mock := newMock(t, false)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTableColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT 1 FROM run_tab LIMIT 1").WillReturnError(errors.New("missing"))
	mock.ExpectExec(`CREATE TABLE run_tab \([\s\S]*model VARCHAR\(255\) NOT NULL,\s*backbone VARCHAR\(255\) NOT NULL,`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE run_tab_epoch \\(").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = NewWithDB(db, Config{DriverName: "mysql", TableName: "run_tab"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRunLongModel(t *testing.T) {
	conn, mock := newMock(t, true)

	model := "insects-" + strings.Repeat("x", 40)
	mock.ExpectExec("INSERT INTO run_tab").
		WithArgs("run-2", model, "savedmodel", "ants,bees", 1, "running", "valid_acc", 0.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, conn.InsertRun(Run{
		ID:       "run-2",
		Model:    model,
		Backbone: "savedmodel",
		Classes:  []string{"ants", "bees"},
		Epochs:   1,
		Status:   "running",
		Monitor:  "valid_acc",
		CreateAt: time.Now(),
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitKeepsExistingTables(t *testing.T) {
	_, mock := newMock(t, true)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT 1 FROM run_tab").WillReturnError(errors.New("missing"))
	mock.ExpectExec("CREATE TABLE run_tab").WillReturnError(errors.New("denied"))

	_, err = NewWithDB(db, Config{TableName: "run_tab"})
	assert.Error(t, err)
}

func TestInsertRun(t *testing.T) {
	conn, mock := newMock(t, true)

	createAt := time.Date(2020, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO run_tab").
		WithArgs("run-1", "bees", "projection", "ants,bees", 25, "running", "valid_acc", 0.0, "2020-05-01 10:00:00").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, conn.InsertRun(Run{
		ID:       "run-1",
		Model:    "bees",
		Backbone: "projection",
		Classes:  []string{"ants", "bees"},
		Epochs:   25,
		Status:   "running",
		Monitor:  "valid_acc",
		CreateAt: createAt,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertEpoch(t *testing.T) {
	conn, mock := newMock(t, true)

	mock.ExpectExec("INSERT INTO run_tab_epoch").
		WithArgs("run-1", 3, 0.5, 0.75, 0.4, 0.8, 0.001, true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, conn.InsertEpoch(Epoch{
		RunID:     "run-1",
		Epoch:     3,
		TrainLoss: 0.5,
		TrainAcc:  0.75,
		ValidLoss: 0.4,
		ValidAcc:  0.8,
		LR:        0.001,
		Saved:     true,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRun(t *testing.T) {
	conn, mock := newMock(t, true)

	mock.ExpectExec("UPDATE run_tab SET status").
		WithArgs("done", 0.9, sqlmock.AnyArg(), "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := conn.FinishRun("run-1", "done", 0.9, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRuns(t *testing.T) {
	conn, mock := newMock(t, true)

	createAt := time.Date(2020, 5, 1, 10, 0, 0, 0, time.UTC)
	finishAt := createAt.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"id", "model", "backbone", "classes", "epochs", "status", "monitor", "best", "createAt", "finishAt"}).
		AddRow("run-1", "bees", "projection", "ants,bees", 25, "done", "valid_acc", 0.9, createAt, finishAt).
		AddRow("run-2", "bees", "projection", "ants,bees", 1, "running", "valid_acc", 0.0, createAt, nil)
	mock.ExpectQuery("SELECT id, model, backbone").WithArgs("bees").WillReturnRows(rows)

	runs, err := conn.GetRuns("bees")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, []string{"ants", "bees"}, runs[0].Classes)
	assert.Equal(t, finishAt, runs[0].FinishAt)
	assert.Equal(t, 0.9, runs[0].BestValue)
	assert.True(t, runs[1].FinishAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}
