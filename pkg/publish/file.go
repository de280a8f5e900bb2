package publish

import (
	"context"
	"log/slog"

	"sub-hunter/pkg/history"
)

type FileSink struct {
	config Config
	logger *slog.Logger
}

func newFileSink(config Config, logger *slog.Logger) *FileSink {
	return &FileSink{config: config, logger: logger}
}

func (s *FileSink) Name() string {
	return "file"
}

func (s *FileSink) Publish(ctx context.Context, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := history.WriteAtomic(s.config.Path, []byte(content)); err != nil {
		return err
	}
	s.logger.Info("Subscriptions written", "path", s.config.Path, "bytes", len(content))
	return nil
}
