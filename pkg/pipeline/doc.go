/*
Package pipeline runs one complete pass of the subscription hunter: it
discovers candidate links from seed pages, tests them, reconciles the
verified set with the persisted history and publishes the result.

Key Components:

  - Service: Core service that wires the stages together
  - Deps: Collaborators of a Service, each behind a small interface
  - Settings: Retention policy and output locations
  - Result: Summary of a run for callers and the audit sink

Service Methods:

	Run: Executes discovery, testing, reconciliation and publication

Usage Example:

	svc := pipeline.NewService(pipeline.Deps{
		Discoverer: discover.New(fetcher, resolver, discover.DefaultOptions(), logger),
		Canonical:  resolver,
		Tester:     tester.New(fetcher, classifier, 20, logger),
		Reconciler: retention.NewEngine(resolver, sampler, logger),
		Store:      history.NewFileStore("data/history.json", false, true, logger),
		Sink:       sink,
	}, pipeline.Settings{
		Policy:         retention.Policy{FailThreshold: 3, PerOwnerLimit: 5},
		RemovalLogPath: "data/removed.log",
	}, logger)

	result, err := svc.Run(ctx, seeds)
	if err != nil {
		log.Fatal(err)
	}

Run Process:

1. Discovery:
  - Fetches every seed page and same-host pages up to the configured depth
  - Collects candidate links with their owner and score
  - A run without candidates stops here and leaves the history untouched

2. Canonical Selection:
  - Groups mirrors and variants of the same resource
  - Keeps one URL per group, preferring .txt and trusted hosts

3. Testing:
  - Fetches each candidate through the rate-limited client
  - Classifies the payload and records a removal reason for rejects

4. Reconciliation:
  - Merges the verified links into the history with fail-threshold
    eviction, the daily admission cap and per-owner compaction
  - Saves the history atomically and exports the reserve ledger

5. Publication:
  - Publishes the final ordered list to the configured sinks
  - Writes the removal log and the optional audit record

Error Handling:

Only a failed discovery aborts a run. Publication, removal log and audit
failures are logged and the run result is still returned.
*/
package pipeline
