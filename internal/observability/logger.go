package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger derives a structured logger from the process logger
// installed by internal/logging. Fields: component, node.
func ComponentLogger(component, node string) zerolog.Logger {
	ctx := log.Logger.With().Str("component", component)
	if node != "" {
		ctx = ctx.Str("node", node)
	}
	return ctx.Logger()
}
