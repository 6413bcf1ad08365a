package framesync

import (
	"context"
	"log/slog"
)

type EventKind int

const (
	// EventMissingFrame reports a gap between consecutive primary frames
	// larger than the configured maximum spacing.
	EventMissingFrame EventKind = iota
	// EventNoData reports an empty secondary queue.
	EventNoData
	// EventNoMatch reports that no secondary frame could be paired, either
	// because the secondary window aged past the target or because the
	// secondary stream ended.
	EventNoMatch
)

func (k EventKind) String() string {
	switch k {
	case EventMissingFrame:
		return "missing-frame"
	case EventNoData:
		return "no-data"
	case EventNoMatch:
		return "no-match"
	default:
		return "unknown"
	}
}

// Event carries the timestamps needed to diagnose a pairing problem. Stream
// is the index of the affected stream (0 primary, 1 secondary).
type Event struct {
	Kind   EventKind
	Stream int

	Timestamp int64
	Previous  int64
	Target    int64

	WindowHead int64
	WindowTail int64
	HasWindow  bool

	// SecondaryEnded is set on EventNoMatch if the secondary queue was
	// closed, i.e. no further secondary frames will arrive.
	SecondaryEnded bool
}

type EventHandler interface {
	HandleEvent(context.Context, Event)
}

type EventHandlerFunc func(context.Context, Event)

func (f EventHandlerFunc) HandleEvent(ctx context.Context, e Event) {
	f(ctx, e)
}

// MultiEventHandler fans an event out to all handlers in order.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return EventHandlerFunc(func(ctx context.Context, e Event) {
		for _, h := range handlers {
			if h != nil {
				h.HandleEvent(ctx, e)
			}
		}
	})
}

// LogEvents returns an EventHandler that logs events to logger. Missing
// frames are logged at warn level, everything else at debug level since those
// events are expected under sustained rate mismatch.
func LogEvents(logger *slog.Logger) EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return EventHandlerFunc(func(ctx context.Context, e Event) {
		attrs := []any{
			"kind", e.Kind.String(),
			"stream", e.Stream,
			"timestamp", e.Timestamp,
		}
		switch e.Kind {
		case EventMissingFrame:
			attrs = append(attrs, "previous", e.Previous, "gap", e.Timestamp-e.Previous)
			logger.WarnContext(ctx, "frame missing", attrs...)
		case EventNoData:
			attrs = append(attrs, "target", e.Target)
			logger.DebugContext(ctx, "no data", attrs...)
		case EventNoMatch:
			attrs = append(attrs, "target", e.Target, "secondary-ended", e.SecondaryEnded)
			if e.HasWindow {
				attrs = append(attrs, "window-head", e.WindowHead, "window-tail", e.WindowTail)
			}
			logger.DebugContext(ctx, "no match", attrs...)
		}
	})
}
