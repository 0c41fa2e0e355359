// ABOUTME: zap logger construction shared by the binaries
// ABOUTME: Logs to a file, optionally teed to stdout when the TUI is off
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where and how much to log
type Options struct {
	File   string // empty means no file
	Level  string // debug, info, warn or error
	Stdout bool
}

// New builds a logger. The returned function flushes and closes the file.
func New(opts Options) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	var sinks []zapcore.WriteSyncer
	var closer io.Closer

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return nil, nil, fmt.Errorf("error opening log file: %w", err)
		}
		sinks = append(sinks, zapcore.AddSync(f))
		closer = f
	}
	if opts.Stdout {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}

	if len(sinks) == 0 {
		return zap.NewNop(), func() {}, nil
	}

	encoder := zap.NewDevelopmentEncoderConfig()
	encoder.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000")

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoder),
		zapcore.NewMultiWriteSyncer(sinks...),
		level,
	)
	logger := zap.New(core)

	return logger, func() {
		_ = logger.Sync()
		if closer != nil {
			_ = closer.Close()
		}
	}, nil
}
