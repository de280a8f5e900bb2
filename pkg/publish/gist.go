package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.github.com"

type GistSink struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

func newGistSink(config Config, logger *slog.Logger) *GistSink {
	if config.APIBase == "" {
		config.APIBase = defaultAPIBase
	}
	if config.Filename == "" {
		config.Filename = "subscriptions.txt"
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 30
	}
	return &GistSink{
		config: config,
		client: &http.Client{Timeout: time.Duration(config.TimeoutSec) * time.Second},
		logger: logger,
	}
}

func (s *GistSink) Name() string {
	return "gist"
}

type gistFile struct {
	Content string `json:"content"`
}

type gistPatch struct {
	Files map[string]gistFile `json:"files"`
}

// sanitizeToken drops non-ASCII and control characters that would make the
// header invalid.
func sanitizeToken(token string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x21 || r > 0x7e {
			return -1
		}
		return r
	}, token)
}

func (s *GistSink) Publish(ctx context.Context, content string) error {
	payload, err := json.Marshal(gistPatch{Files: map[string]gistFile{s.config.Filename: {Content: content}}})
	if err != nil {
		return fmt.Errorf("failed to encode gist payload: %w", err)
	}
	endpoint := strings.TrimRight(s.config.APIBase, "/") + "/gists/" + s.config.GistID
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+sanitizeToken(s.config.Token))
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to update gist: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gist update returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	s.logger.Info("Gist updated", "id", s.config.GistID, "file", s.config.Filename)
	return nil
}
