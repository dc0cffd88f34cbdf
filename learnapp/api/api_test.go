package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/config"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/data"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/data/db"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/learning"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/pipeline"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/training"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, m *data.Manager) (*gin.Engine, *learning.Learning) {
	cls := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(cls.Close)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.ClsHost = strings.TrimPrefix(cls.URL, "http://")

	l := learning.New(learning.Config{
		App:    cfg,
		Logger: zap.NewNop(),
		Run: func(ctx context.Context, cfg config.AppConfig, opts pipeline.Options, logger *zap.Logger) (*pipeline.Result, error) {
			return &pipeline.Result{
				Model:   opts.Model,
				Classes: []string{"ants", "bees"},
				History: &training.History{Epochs: []training.EpochLogs{{Epoch: 1, ValidAcc: 0.75}}},
			}, nil
		},
	})
	t.Cleanup(l.Destroy)

	r := gin.New()
	a := &APIs{L: l, M: m}
	a.Register(r)

	return r, l
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndShowModel(t *testing.T) {
	r, l := newRouter(t, nil)

	w := do(r, http.MethodPost, "/models/bees", `{"imagePath":"/cls/images/insects","modelPath":"/cls/models/bees-1","configFile":"/cls/models/bees-1/config.yaml","desc":"bees","epochs":2,"trial":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "bees", created["model"])
	assert.Equal(t, "learning", created["status"])
	assert.EqualValues(t, 2, created["epochs"])

	l.Wait()

	w = do(r, http.MethodGet, "/models", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"models":["bees"]}`, w.Body.String())

	w = do(r, http.MethodGet, "/models/bees?verbose", "")
	require.Equal(t, http.StatusOK, w.Code)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "exported", info["status"])
	assert.Equal(t, false, info["notified"])
	assert.Len(t, info["history"], 1)
}

func TestCreateModelBadRequest(t *testing.T) {
	r, _ := newRouter(t, nil)

	w := do(r, http.MethodPost, "/models/bees", `{"desc":"no path"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/models/bees", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/models/bees", `{"modelPath":"/m/bees","configFile":"/other/config.yaml"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)
}

func TestShowUnknownModel(t *testing.T) {
	r, _ := newRouter(t, nil)

	w := do(r, http.MethodGet, "/models/wasps", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Cannot find model info: wasps"}`, w.Body.String())

	w = do(r, http.MethodDelete, "/models/wasps", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRuns(t *testing.T) {
	r, _ := newRouter(t, nil)
	w := do(r, http.MethodGet, "/runs", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectQuery("SELECT 1 FROM run_tab").WillReturnRows(sqlmock.NewRows([]string{"1"}))
	conn, err := db.NewWithDB(sqlDB, db.Config{TableName: "run_tab"})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, model").WithArgs("bees").
		WillReturnRows(sqlmock.NewRows([]string{"id", "model", "backbone", "classes", "epochs", "status", "monitor", "best", "createAt", "finishAt"}).
			AddRow("run-1", "bees", "projection", "ants,bees", 25, "done", "valid_acc", 0.9, time.Date(2020, 5, 1, 10, 0, 0, 0, time.UTC), nil))

	r, _ = newRouter(t, &data.Manager{Conn: conn, Logger: zap.NewNop()})
	w = do(r, http.MethodGet, "/runs?model=bees", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"ID":"run-1"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoggerMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	r.GET("/fail", func(c *gin.Context) {
		Error(c, http.StatusInternalServerError, assert.AnError)
	})

	w := do(r, http.MethodGet, "/fail", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"`+assert.AnError.Error()+`"}`, w.Body.String())
}
