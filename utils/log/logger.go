package log

import (
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger

// Options configures file output for InitLogger.
type Options struct {
	Level      zapcore.Level
	File       string // base name, ".info.log" and ".error.log" are appended
	MaxSize    int    // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

func consoleCore(level zapcore.Level) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stderr), level)
}

// DefaultLogger installs a console-only logger writing to stderr.
// Stdout is left to the programs for their own output.
func DefaultLogger(level zapcore.Level) {
	install(consoleCore(level))
}

// InitLogger installs a logger that writes to the console and to two
// rotated files: everything at opts.Level and above goes to the info
// file, errors go to the error file as well.
func InitLogger(opts Options) {
	if opts.File == "" {
		DefaultLogger(opts.Level)
		return
	}

	infoWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.File + ".info.log",
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   opts.Compress,
	})
	errorWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.File + ".error.log",
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   opts.Compress,
	})

	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileEncoder := zapcore.NewConsoleEncoder(cfg)

	errorLevel := zapcore.ErrorLevel
	if opts.Level > errorLevel {
		errorLevel = opts.Level
	}

	install(
		consoleCore(opts.Level),
		zapcore.NewCore(fileEncoder, infoWriter, opts.Level),
		zapcore.NewCore(fileEncoder, errorWriter, errorLevel),
	)
}

func install(cores ...zapcore.Core) {
	Logger = zap.New(zapcore.NewTee(cores...)).WithOptions(zap.AddCaller(), zap.AddCallerSkip(1))
	zap.ReplaceGlobals(Logger)
}

// ParseLevel maps "debug", "info", "warn", "error" to a zap level.
// An empty string is info.
func ParseLevel(s string) (zapcore.Level, error) {
	level := zapcore.InfoLevel
	if s == "" {
		return level, nil
	}
	err := level.UnmarshalText([]byte(s))
	return level, err
}

// Sync flushes buffered entries. Call it before the process exits.
func Sync() {
	_ = zap.L().Sync()
}

func Infof(template string, args ...interface{}) {
	zap.S().Infof(template, args...)
}

func Debugf(template string, args ...interface{}) {
	zap.S().Debugf(template, args...)
}

func Errorf(template string, args ...interface{}) {
	zap.S().Errorf(template, args...)
}

func Warnf(template string, args ...interface{}) {
	zap.S().Warnf(template, args...)
}

func Info(msg string, fields ...zapcore.Field) {
	zap.L().Info(msg, fields...)
}

func Debug(msg string, fields ...zapcore.Field) {
	zap.L().Debug(msg, fields...)
}

func Error(msg string, fields ...zapcore.Field) {
	zap.L().Error(msg, fields...)
}

func Warn(msg string, fields ...zapcore.Field) {
	zap.L().Warn(msg, fields...)
}
