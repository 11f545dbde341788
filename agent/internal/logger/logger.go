package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var L = zerolog.Nop()

// Init sends log output to path, or to stdout when path is empty.
func Init(path string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		w = file
	}
	L = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: "2006/01/02 15:04:05"}).With().Str("svc", "agent").Logger()
	return nil
}

func Info(v ...interface{})             { L.Info().Msg(fmt.Sprint(v...)) }
func Error(v ...interface{})            { L.Error().Msg(fmt.Sprint(v...)) }
func Infof(f string, v ...interface{})  { L.Info().Msgf(f, v...) }
func Errorf(f string, v ...interface{}) { L.Error().Msgf(f, v...) }
func Warnf(f string, v ...interface{})  { L.Warn().Msgf(f, v...) }
