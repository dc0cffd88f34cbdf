package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New zap logger 생성. info 이하는 stdout, warn 이상은 stderr 로 출력
func New(debug bool) *zap.Logger {
	var (
		encoderConfig zapcore.EncoderConfig
		outLevel      zap.LevelEnablerFunc
	)

	errLevel := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= zapcore.WarnLevel
	})

	if debug {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		outLevel = func(level zapcore.Level) bool {
			return level == zapcore.DebugLevel || level == zapcore.InfoLevel
		}
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		outLevel = func(level zapcore.Level) bool {
			return level == zapcore.InfoLevel
		}
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(os.Stdout), outLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(os.Stderr), errLevel),
	)

	return zap.New(core)
}
