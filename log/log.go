package log

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stremd/stremd/config"
)

const FileName = "stremd.log"

// Load configures the global zerolog logger with console output and a
// rotating file under conf.Path.
func Load(conf *config.Log) {
	level := zerolog.InfoLevel
	if conf.Debug {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{
		Out:        colorable.NewColorableStdout(),
		TimeFormat: time.RFC822,
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(conf.Path, FileName),
		MaxSize:    conf.MaxSize,
		MaxBackups: conf.MaxBackups,
		MaxAge:     conf.MaxAge,
	}

	if err := os.MkdirAll(conf.Path, 0744); err != nil {
		log.Error().Err(err).Str("path", conf.Path).Msg("error creating log folder")
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).
		Level(level).
		With().Timestamp().Logger()
}
