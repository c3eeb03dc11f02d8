package modlog

import (
	"context"
	"log/slog"
	"sort"
)

// Writes records to a structured logger.
type SlogLog struct {
	Logger *slog.Logger
}

func NewSlogLog(logger *slog.Logger) *SlogLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLog{Logger: logger.With("component", "modlog")}
}

func (l *SlogLog) LogAction(ctx context.Context, kind Kind, guildID string, details map[string]string) error {
	args := []any{"kind", string(kind), "guild", guildID}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, details[k])
	}
	level := slog.LevelInfo
	if kind.Failure() {
		level = slog.LevelWarn
	}
	l.Logger.Log(ctx, level, Format(kind, details), args...)
	return nil
}
