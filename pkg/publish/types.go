package publish

import "context"

// System represents the type of publication target
type System string

const (
	SystemFile System = "file"
	SystemGist System = "gist"
)

// Config represents the configuration for a sink
type Config struct {
	System   System
	Path     string // only used by file
	GistID   string // only used by gist
	Token    string // only used by gist
	Filename string // only used by gist

	// APIBase overrides https://api.github.com
	APIBase    string
	TimeoutSec int
}

// Sink publishes the final subscription list.
type Sink interface {
	Publish(ctx context.Context, content string) error
	Name() string
}
