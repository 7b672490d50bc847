package webcamctl

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func nowAsString() string {
	return time.Now().Format("2006.01.02_15.04.05")
}

// NewLogger builds a logger writing to stdout and, if enabled, to a
// timestamped log file in the working directory. The returned function
// flushes and closes the file.
func NewLogger(cfg *Config) (*zap.SugaredLogger, func(), error) {
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.LogLevel))); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), level),
	}
	var logFile *os.File
	if cfg.LogFile {
		var err error
		logFile, err = os.OpenFile(fmt.Sprintf("%s.log", nowAsString()), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("log file opening error: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(logFile), level))
	}

	logger := zap.New(zapcore.NewTee(cores...)).Sugar()
	finish := func() {
		_ = logger.Sync()
		if logFile != nil {
			logFile.Sync()
			logFile.Close()
		}
	}
	return logger, finish, nil
}
