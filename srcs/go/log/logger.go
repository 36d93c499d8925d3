package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level = zapcore.Level

const (
	Debug = zapcore.DebugLevel
	Info  = zapcore.InfoLevel
	Warn  = zapcore.WarnLevel
	Error = zapcore.ErrorLevel
)

const LogLevelEnvKey = `HCCL_LOG_LEVEL`

var std = New(os.Stdout)

type Logger struct {
	sync.Mutex
	level    zap.AtomicLevel
	logger   *zap.Logger
	sugar    *zap.SugaredLogger
	operator *zap.Logger
}

func New(w io.Writer) *Logger {
	l := &Logger{level: zap.NewAtomicLevelAt(Info)}
	if val := os.Getenv(LogLevelEnvKey); len(val) > 0 {
		_ = l.level.UnmarshalText([]byte(strings.ToLower(val)))
	}
	l.build(w)
	return l
}

func (l *Logger) build(w io.Writer) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), l.level)
	l.logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	l.sugar = l.logger.Sugar()
	l.operator = zap.New(core).Named("operator")
}

func (l *Logger) current() *zap.SugaredLogger {
	l.Lock()
	defer l.Unlock()
	return l.sugar
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	l.current().Debugf(format, v...)
}

func (l *Logger) Infof(format string, v ...interface{}) {
	l.current().Infof(format, v...)
}

func (l *Logger) Warnf(format string, v ...interface{}) {
	l.current().Warnf(format, v...)
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.current().Errorf(format, v...)
}

func (l *Logger) Exitf(format string, v ...interface{}) {
	l.current().Errorf(format, v...)
	_ = l.current().Sync()
	os.Exit(1)
}

func (l *Logger) SetOutput(w io.Writer) {
	l.Lock()
	defer l.Unlock()
	l.build(w)
}

func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level)
}

// Zap exposes the underlying logger for components that log structured fields.
func (l *Logger) Zap() *zap.Logger {
	l.Lock()
	defer l.Unlock()
	return l.logger
}

var (
	Debugf    = std.Debugf
	Infof     = std.Infof
	Warnf     = std.Warnf
	Errorf    = std.Errorf
	Exitf     = std.Exitf
	SetOutput = std.SetOutput
	SetLevel  = std.SetLevel
	Zap       = std.Zap
)
