package logging

import (
	"context"
	"log/slog"
	"sort"

	"swapchain/core/events"
	"swapchain/core/types"
)

type eventLogger struct {
	logger *slog.Logger
}

// EventLogger returns an emitter that records each committed event at debug
// level. Attribute values other than the order hash are masked.
func EventLogger(logger *slog.Logger) events.Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return eventLogger{logger: logger}
}

func (l eventLogger) Emit(evt events.Event) {
	if !l.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	rendered := events.Render(evt)
	if rendered == nil {
		return
	}
	keys := make([]string, 0, len(rendered.Attributes))
	for key := range rendered.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys)+2)
	attrs = append(attrs, slog.String("type", rendered.Type), slog.String("order_hash", rendered.OrderHash()))
	for _, key := range keys {
		if key == types.AttrOrderHash {
			continue
		}
		attrs = append(attrs, MaskField(key, rendered.Attributes[key]))
	}
	l.logger.Debug("event committed", attrs...)
}
