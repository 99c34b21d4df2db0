package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier logs notifications (useful for testing/dev).
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	ev := l.logger.Info()
	switch n.Level {
	case LevelError:
		ev = l.logger.Error()
	case LevelWarning:
		ev = l.logger.Warn()
	}
	ev.Str("level", string(n.Level)).
		Str("kind", string(n.Kind)).
		Str("source", n.Source).
		Str("title", n.Title).
		Msg(n.Message)
	return nil
}
