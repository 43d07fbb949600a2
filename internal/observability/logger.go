package observability

import (
	"github.com/danmuck/nodehub/internal/logging"
	"github.com/rs/zerolog"
)

// InitLogger configures the runtime logging profile and returns the
// application logger tagged with app.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	return logging.Component(app).With().Str("app", app).Logger()
}
