package publish

import (
	"context"
	"fmt"
	"log/slog"
)

// NewSink creates a new sink based on the config
func NewSink(config Config, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch config.System {
	case SystemFile:
		if config.Path == "" {
			return nil, fmt.Errorf("file sink requires a path")
		}
		return newFileSink(config, logger), nil
	case SystemGist:
		if config.GistID == "" || config.Token == "" {
			return nil, fmt.Errorf("gist sink requires an id and a token")
		}
		return newGistSink(config, logger), nil
	default:
		return nil, fmt.Errorf("unsupported publish system: %s", config.System)
	}
}

// Multi publishes to every sink and returns the first error after trying
// all of them.
type Multi []Sink

func (m Multi) Name() string {
	return "multi"
}

func (m Multi) Publish(ctx context.Context, content string) error {
	var first error
	for _, s := range m {
		if err := s.Publish(ctx, content); err != nil && first == nil {
			first = fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return first
}
