package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu   sync.Mutex
	root *zap.Logger
)

// Named returns a child of the process logger. The logger writes JSON to a
// rotated file and, outside production, pretty output to stdout.
func Named(name string) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	if root == nil {
		root = build()
	}
	return root.Named(name)
}

func build() *zap.Logger {
	dir := os.Getenv("DASHBOARD_LOG_DIR")
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		// No writable log dir: console only.
		return consoleLogger()
	}

	fileSink := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "dashboard.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(fileSink),
		zap.InfoLevel,
	)

	if os.Getenv("DASHBOARD_ENV") == "production" {
		return zap.New(fileCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stdout),
		zap.DebugLevel,
	)
	return zap.New(zapcore.NewTee(fileCore, consoleCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func consoleLogger() *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)
	return zap.New(core)
}

// SetNop silences the process logger; test helper.
func SetNop() {
	mu.Lock()
	defer mu.Unlock()
	root = zap.NewNop()
}
