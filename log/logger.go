// Package log is the process-wide logging facade used by every other
// package in this module. It keeps the call-site shape of a small
// printf-style logger (Debugf/Infof/Warnf/Errorf/Fatalf) while backing it
// with zap so the engine's concurrent state machine can attach structured
// fields (state, session_id, queue) where it matters.
package log

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base *zap.Logger = zap.NewNop()

// Config controls the logging backend. LogLevel is the minimum level
// emitted; LogFile, if set, additionally writes to that path; EnableConsole
// mirrors output to stdout; EnableJSON selects structured JSON encoding
// instead of a human console encoding.
type Config struct {
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	EnableConsole bool   `yaml:"enable_console"`
	EnableJSON    bool   `yaml:"enable_json"`
}

var levelNames = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
	"fatal": zapcore.FatalLevel,
}

// Init (re)configures the package-level logger from cfg. Safe to call once
// at process start; not safe to call concurrently with logging calls.
func Init(cfg *Config) error {
	level, ok := levelNames[cfg.LogLevel]
	if !ok {
		level = zapcore.InfoLevel
	}

	var writers []zapcore.WriteSyncer
	if cfg.LogFile != "" {
		file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, zapcore.AddSync(file))
		if cfg.EnableConsole {
			writers = append(writers, zapcore.AddSync(os.Stdout))
		}
	} else if cfg.EnableConsole {
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}
	if len(writers) == 0 {
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if cfg.EnableJSON {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), level)
	base = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	Infof("logging initialized, level=%s", cfg.LogLevel)
	return nil
}

// With returns a logger that attaches the given structured fields to every
// subsequent line, e.g. log.With("session_id", sid).Infof("hello").
func With(keysAndValues ...interface{}) *Fields {
	return &Fields{l: base.Sugar().With(keysAndValues...)}
}

// Fields is a logger carrying a fixed set of structured fields.
type Fields struct{ l *zap.SugaredLogger }

func (f *Fields) Debugf(format string, args ...interface{}) { f.l.Debugf(format, args...) }
func (f *Fields) Infof(format string, args ...interface{})  { f.l.Infof(format, args...) }
func (f *Fields) Warnf(format string, args ...interface{})  { f.l.Warnf(format, args...) }
func (f *Fields) Errorf(format string, args ...interface{}) { f.l.Errorf(format, args...) }

func Debugf(format string, args ...interface{}) { base.Sugar().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { base.Sugar().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { base.Sugar().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { base.Sugar().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { base.Sugar().Fatalf(format, args...) }
