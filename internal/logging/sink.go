package logging

import (
	"context"
	"log/slog"

	"github.com/loykin/daemonkit/internal/eventbus"
)

// LogEvent is published on eventbus.Log by the scheduler and by any
// component that wants its message to go through the same subscriber chain
// as every other log line (so a filtering plugin can intercept it).
type LogEvent struct {
	Level slog.Level
	Msg   string
	Attrs []any
}

// Subscribe registers a low-priority handler that writes every LogEvent
// through logger unless a higher-priority subscriber already stopped
// propagation — matching the contract that a stopped log event is neither
// written nor echoed. The sink runs at priority -100; only a subscriber
// registered below -100 observes a log line after this sink has already
// written it (there usually isn't one).
func Subscribe(bus *eventbus.Bus, logger *slog.Logger) {
	bus.Subscribe(eventbus.Log, -100, func(e any) bool {
		le, ok := e.(*LogEvent)
		if !ok {
			return false
		}
		logger.Log(context.Background(), le.Level, le.Msg, le.Attrs...)
		return false
	})
}
