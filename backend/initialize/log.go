package initialize

import (
	"os"

	"chunk-relay/backend/global"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	// basic zerolog setup: console writer to stdout
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006/01/02 15:04:05"}
	global.Logger = log.Output(cw).With().Str("svc", "backend").Logger()
}
