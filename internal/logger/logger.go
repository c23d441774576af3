package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Environment string
	Level       string
	// File enables a rotating log file next to stdout when set
	File string
}

// New creates the application logger. Production logs are JSON, development logs
// use the console writer.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var stdout io.Writer = os.Stdout
	if opts.Environment != "production" {
		stdout = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	out := stdout
	if opts.File != "" {
		out = zerolog.MultiLevelWriter(stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // megabytes
			MaxAge:     30,  // days
			MaxBackups: 30,
			Compress:   true,
		})
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
