package log

import (
	"errors"
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	flushInterval = time.Second
	bufferSize    = 64 * 1024
)

type Config struct {
	STDOUT     bool   // stdout
	STDERR     bool   // stderr
	File       string // log out put file path, empty means no log file
	Level      int8   // debug -1 | info 0 (default) | warn 1 | error 2
	MaxAge     int    // days to keep rotated files, 0 keeps all
	MaxSize    int    // megabytes per file
	MaxBackups int    // rotated files to keep
	Compress   bool   // gzip rotated files
	JsonFormat bool   // json encoder instead of console
}

var (
	Logger = zap.NewNop()
	Sugar  = Logger.Sugar()

	buffered *zapcore.BufferedWriteSyncer
)

// Init replaces the package loggers. File output is buffered and flushed
// every second, call Close before exit.
func Init(config Config) error {

	var wss []zapcore.WriteSyncer
	if len(config.File) > 0 {
		hook := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize, // megabytes
			MaxAge:     config.MaxAge,
			MaxBackups: config.MaxBackups,
			LocalTime:  false,
			Compress:   config.Compress,
		}
		buffered = &zapcore.BufferedWriteSyncer{
			WS:            zapcore.AddSync(hook),
			Size:          bufferSize,
			FlushInterval: flushInterval,
		}
		wss = append(wss, buffered)
	}

	if config.STDOUT {
		wss = append(wss, zapcore.AddSync(os.Stdout))
	}

	if config.STDERR {
		wss = append(wss, zapcore.Lock(os.Stderr))
	}

	if len(wss) == 0 {
		return errors.New("write syncer needed")
	}

	cfg := zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var enc zapcore.Encoder
	if config.JsonFormat {
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	switch zapcore.Level(config.Level) {
	case zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel:
	default:
		config.Level = int8(zapcore.InfoLevel)
	}

	Logger = zap.New(zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(wss...), zapcore.Level(config.Level)), zap.AddCaller())
	Sugar = Logger.Sugar()

	return nil
}

// LevelFromVerbosity maps the count of -v flags to a zap level,
// no flag logs warnings and errors only.
func LevelFromVerbosity(verbose int) int8 {
	switch {
	case verbose <= 0:
		return int8(zapcore.WarnLevel)
	case verbose == 1:
		return int8(zapcore.InfoLevel)
	default:
		return int8(zapcore.DebugLevel)
	}
}

// Close flushes buffered output.
func Close() {
	_ = Logger.Sync()
	if buffered != nil {
		_ = buffered.Stop()
		buffered = nil
	}
}
