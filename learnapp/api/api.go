package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/data"
	"github.com/harrison-roh/image-finetuning-with-transfer-learning/learnapp/learning"
)

// APIs api 핸들러
type APIs struct {
	L *learning.Learning
	M *data.Manager
}

// ListModels 학습 모델 목록 반환
func (a *APIs) ListModels(c *gin.Context) {
	models := a.L.GetModels()
	c.JSON(http.StatusOK, gin.H{
		"models": models,
	})
}

// ShowModel 학습 모델 정보 반환
func (a *APIs) ShowModel(c *gin.Context) {
	model := c.Param("model")
	_, verbose := c.GetQuery("verbose")

	if info := a.L.GetModel(model, verbose); info != nil {
		c.JSON(http.StatusOK, info)
	} else {
		Error(c, http.StatusBadRequest, fmt.Errorf("Cannot find model info: %s", model))
	}
}

// CreateModel model 학습 시작
func (a *APIs) CreateModel(c *gin.Context) {
	model := c.Param("model")
	if model == "" {
		Error(c, http.StatusBadRequest, errors.New("Empty model name"))
		return
	}

	var req learning.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err)
		return
	}

	if res, err := a.L.CreateModel(model, req); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.JSON(http.StatusOK, res)
	}
}

// CancelModel 진행 중인 학습 취소
func (a *APIs) CancelModel(c *gin.Context) {
	model := c.Param("model")

	if err := a.L.CancelModel(model); err != nil {
		Error(c, http.StatusBadRequest, err)
	} else {
		c.String(http.StatusOK, "OK")
	}
}

// ListRuns db 에 기록 된 학습 실행 반환
func (a *APIs) ListRuns(c *gin.Context) {
	if a.M == nil {
		Error(c, http.StatusNotFound, errors.New("Run recording is disabled"))
		return
	}

	if runs, err := a.M.Runs(c.Query("model")); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.JSON(http.StatusOK, gin.H{
			"runs": runs,
		})
	}
}

// Register router 에 핸들러 등록
func (a *APIs) Register(r gin.IRouter) {
	modelsGroup := r.Group("/models")
	{
		modelsGroup.GET("", a.ListModels)
		modelsGroup.GET(":model", a.ShowModel)
		modelsGroup.POST(":model", a.CreateModel)
		modelsGroup.DELETE(":model", a.CancelModel)
	}

	r.GET("/runs", a.ListRuns)
}

// Logger 요청마다 zap 으로 한 줄 기록
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		t0 := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(t0)),
		}

		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("Request failed", fields...)
		} else {
			logger.Debug("Request", fields...)
		}
	}
}

// HTTPError api 에러 메시지
type HTTPError struct {
	Error string `json:"error"`
}

// Error api 에러를 담은 json 응답 생성
func Error(c *gin.Context, status int, err error) {
	c.JSON(status, HTTPError{
		Error: err.Error(),
	})
}
