package infra

import (
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// NewHTTPServer creates a fasthttp server using the configured timeouts.
func NewHTTPServer(cfg *Config, handler fasthttp.RequestHandler, log zerolog.Logger) *fasthttp.Server {
	return &fasthttp.Server{
		Handler:            handler,
		Name:               "hsa-planner",
		ReadTimeout:        cfg.HTTPReadTimeout,
		WriteTimeout:       cfg.HTTPWriteTimeout,
		IdleTimeout:        cfg.HTTPIdleTimeout,
		MaxRequestBodySize: 1 << 20,
		Logger:             fasthttpLogger{log},
	}
}

// fasthttpLogger adapts zerolog to fasthttp.Logger.
type fasthttpLogger struct {
	log zerolog.Logger
}

func (l fasthttpLogger) Printf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}
