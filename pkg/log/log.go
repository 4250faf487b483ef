package log

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction. FilePath empty = console only.
type Options struct {
	Debug      bool
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
}

// NewContextWithLogger builds the process logger and stores it in ctx.
// Console output is human-readable; the optional file output is JSON and
// rotated by lumberjack. Returns a cleanup func for the file writer.
func NewContextWithLogger(ctx context.Context, opts Options) (context.Context, func()) {
	if opts.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.DateTime,
	}

	var out io.Writer = console
	cleanup := func() {}
	if opts.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    max(opts.MaxSizeMB, 10),
			MaxBackups: max(opts.MaxBackups, 3),
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(console, rotator)
		cleanup = func() { _ = rotator.Close() }
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger.WithContext(ctx), cleanup
}

// FromCtx returns the logger stored in ctx (zerolog's default if none).
func FromCtx(ctx context.Context) *zerolog.Logger {
	return log.Ctx(ctx)
}
