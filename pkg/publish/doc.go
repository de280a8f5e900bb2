/*
Package publish writes the final list of subscription links to the places
consumers read it from.

The package implements a Sink interface so the pipeline can publish to a
local file, a GitHub gist or both without knowing which.

Key Components:

  - Sink: Interface implemented by every publication target
  - Config: Configuration structure for sinks
  - System: Enum type representing supported targets
  - Factory: Creates sink instances based on configuration
  - Multi: Publishes to several sinks in order

Supported Sinks:

 1. File Sink:
    - Writes the list through a temporary file and a rename, so readers
      never observe a partial list

 2. Gist Sink:
    - PATCHes a single file of an existing gist through the GitHub API
    - Requires a gist id and a token with gist scope

Usage Example:

	sink, err := publish.NewSink(publish.Config{
		System: publish.SystemGist,
		GistID: "0123456789abcdef",
		Token:  os.Getenv("GIST_TOKEN"),
	}, logger)
	if err != nil {
		log.Fatal(err)
	}
	if err := sink.Publish(ctx, strings.Join(urls, "\n")+"\n"); err != nil {
		logger.Error("Publish failed", "error", err)
	}
*/
package publish
