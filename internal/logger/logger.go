package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置。
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, pretty
	FileEnabled  bool
	Dir          string
	RotationSize int // MB
	RetentionDay int
	ServiceName  string
}

// Init 初始化全局 zerolog logger；启用文件时额外写入按大小滚动的 app.log。
func Init(cfg Config) error {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	w, err := writer(cfg, os.Stderr)
	if err != nil {
		return err
	}

	log.Logger = zerolog.New(w).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("format", cfg.Format).
		Bool("file_enabled", cfg.FileEnabled).
		Msg("logger initialized")
	return nil
}

func writer(cfg Config, console io.Writer) (io.Writer, error) {
	var writers []io.Writer
	if cfg.Format == "pretty" {
		writers = append(writers, zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"})
	} else {
		writers = append(writers, console)
	}

	if cfg.FileEnabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		size := cfg.RotationSize
		if size <= 0 {
			size = 100
		}
		days := cfg.RetentionDay
		if days <= 0 {
			days = 7
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "app.log"),
			MaxSize:    size,
			MaxAge:     days,
			MaxBackups: 10,
			Compress:   true,
		})
	}

	if len(writers) == 1 {
		return writers[0], nil
	}
	return zerolog.MultiLevelWriter(writers...), nil
}
