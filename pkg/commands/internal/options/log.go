package options

import (
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/wuxler/pincer/pkg/xlog"
)

const (
	// LogFlagCategory is the category of the logging flags.
	LogFlagCategory = "[Log]"
)

// NewLogOptions returns a *LogOptions with default values.
func NewLogOptions() *LogOptions {
	return &LogOptions{
		Level:  "info",
		Format: "text",
	}
}

// LogOptions defines the logging options.
type LogOptions struct {
	// Level is the minimum level to log, oneof ["debug", "info", "warn", "error"].
	Level string

	// Format is the stdout log format, oneof ["text", "json"].
	Format string

	// File is an optional log file path; rotated automatically when set.
	File string
}

// Flags returns the []cli.Flag related to current options.
func (o *LogOptions) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       `log level, oneof ["debug", "info", "warn", "error"]`,
			Sources:     cli.EnvVars("PINCER_LOG_LEVEL"),
			Value:       o.Level,
			Destination: &o.Level,
			Category:    LogFlagCategory,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       `log output format, oneof ["text", "json"]`,
			Sources:     cli.EnvVars("PINCER_LOG_FORMAT"),
			Value:       o.Format,
			Destination: &o.Format,
			Category:    LogFlagCategory,
		},
		&cli.StringFlag{
			Name:        "log-file",
			Usage:       "write logs to this file in addition to stdout",
			Sources:     cli.EnvVars("PINCER_LOG_FILE"),
			Value:       o.File,
			Destination: &o.File,
			Category:    LogFlagCategory,
		},
	}
}

// NewLogger builds a logger from the options. With debug set the level is
// forced down to debug regardless of the configured level.
func (o *LogOptions) NewLogger(debug bool) (*xlog.Logger, error) {
	level, err := xlog.ParseLevel(o.Level)
	if err != nil {
		return nil, err
	}
	if debug {
		level = slog.LevelDebug
	}
	config := xlog.NewConfig()
	config.Level = level
	config.StdFormat = o.Format
	config.Path = o.File
	return xlog.New(config), nil
}
