// File: main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sub-hunter/pkg/classify"
	"sub-hunter/pkg/config"
	"sub-hunter/pkg/connectivity"
	"sub-hunter/pkg/database"
	"sub-hunter/pkg/discover"
	"sub-hunter/pkg/fetch"
	"sub-hunter/pkg/freshness"
	"sub-hunter/pkg/history"
	"sub-hunter/pkg/models"
	"sub-hunter/pkg/pipeline"
	"sub-hunter/pkg/publish"
	"sub-hunter/pkg/resource"
	"sub-hunter/pkg/retention"
	"sub-hunter/pkg/tester"
)

var (
	debugFlag bool
	cfgFile   string
	logger    *slog.Logger
	settings  config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "sub-hunter",
	Short: "A tool for discovering and maintaining proxy subscription links",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set up logging based on the debug flag
		var logLevel slog.Level
		if debugFlag {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelInfo
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)

		var err error
		settings, err = config.Load(viper.GetViper())
		if err != nil {
			logger.Error("Error loading settings", "error", err)
			os.Exit(1)
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run [seeds-file]",
	Short: "Discover, test and publish subscription links",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		seeds, err := discover.LoadSeeds(args[0])
		if err != nil {
			logger.Error("Error loading seeds", "error", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fetcher := newFetcher()
		resolver := resource.NewResolver()
		classifier, err := newClassifier()
		if err != nil {
			logger.Error("Error creating classifier", "error", err)
			os.Exit(1)
		}

		deps := pipeline.Deps{
			Discoverer: discover.New(fetcher, resolver, discover.Options{
				MaxDepth:   settings.Discover.MaxDepth,
				MaxVisited: settings.Discover.MaxVisited,
			}, logger),
			Canonical:  resolver,
			Tester:     tester.New(fetcher, classifier, settings.MaxWorkers, logger),
			Reconciler: newEngine(resolver, fetcher),
			Store:      newStore(),
			Sink:       newSink(),
		}
		if settings.Database.Enabled {
			db, err := initDB(ctx)
			if err != nil {
				logger.Error("Error initializing database", "error", err)
				os.Exit(1)
			}
			defer db.Close()
			deps.Audit = db
		}

		svc := pipeline.NewService(deps, pipeline.Settings{
			Policy:         newPolicy(),
			RemovalLogPath: settings.Output.RemovalLogPath,
		}, logger)

		result, err := svc.Run(ctx, seeds)
		if err != nil {
			logger.Error("Error running pipeline", "error", err)
			os.Exit(1)
		}
		logger.Info("Run completed",
			"run", result.RunID,
			"candidates", result.Candidates,
			"valid", len(result.Report.Valid),
			"active", len(result.Outcome.Active),
			"published", result.Published)
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify [url] [file|-]",
	Short: "Classify a payload, fetched from url or read from a file or stdin",
	Long: `Classify prints the verdict for one payload.
[url] decides which checks apply, based on its shape
[file|-] is read instead of fetching url; - reads stdin`,
	Example: "classify https://example.com/sub.txt ./sub.txt",
	Args:    cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		classifier, err := newClassifier()
		if err != nil {
			logger.Error("Error creating classifier", "error", err)
			os.Exit(1)
		}

		var body []byte
		switch {
		case len(args) == 1:
			res, err := newFetcher().Fetch(context.Background(), args[0])
			if err != nil {
				logger.Error("Error fetching", "url", args[0], "error", err)
				os.Exit(1)
			}
			body = res.Body
		case args[1] == "-":
			body, err = io.ReadAll(os.Stdin)
		default:
			body, err = os.ReadFile(args[1])
		}
		if err != nil {
			logger.Error("Error reading payload", "error", err)
			os.Exit(1)
		}

		verdict := classifier.Classify(args[0], string(body))
		fmt.Println(verdict)
		if !verdict.Accepted {
			os.Exit(2)
		}
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [valid-file]",
	Short: "Merge an already verified list into the history and publish it",
	Long: `Reconcile reads one "url [owner]" per line, merges the list into the
history with the retention policy and publishes the final list.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		entries, err := discover.LoadSeeds(args[0])
		if err != nil {
			logger.Error("Error loading valid list", "error", err)
			os.Exit(1)
		}

		ctx := context.Background()
		resolver := resource.NewResolver()
		policy := newPolicy()
		policy.Hints = map[string]string{}
		valid := make([]string, 0, len(entries))
		for _, e := range entries {
			valid = append(valid, e.URL)
			if e.Owner != "" {
				policy.Hints[e.URL] = e.Owner
			}
		}

		outcome := newEngine(resolver, newFetcher()).Run(ctx, newStore(), valid, policy)
		if len(outcome.Active) == 0 {
			logger.Warn("Final list is empty, skipping publication")
		} else if sink := newSink(); sink != nil {
			if err := sink.Publish(ctx, strings.Join(outcome.Active, "\n")+"\n"); err != nil {
				logger.Error("Publication failed", "error", err)
			}
		}
		logger.Info("Reconcile completed",
			"active", len(outcome.Active),
			"admitted", len(outcome.Admitted),
			"deferred", len(outcome.Deferred),
			"evicted", len(outcome.Evictions))
		if outcome.SaveErr != nil {
			os.Exit(1)
		}
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [url...]",
	Short: "Print the canonical URL, owner key and base path of each url",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resolver := resource.NewResolver()
		for _, u := range args {
			canonical := resource.Canonicalize(u)
			key := resolver.Resolve(canonical, "")
			fmt.Printf("%s\t%s\t%s\n", canonical, key.OwnerKey, key.BasePath)
		}
	},
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger [url]",
	Short: "Print the audited history of a url, oldest first",
	Long: `Ledger prints every admission, refresh and eviction recorded for url
in the audit database. Requires database.enabled.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if !settings.Database.Enabled {
			logger.Error("Audit database is disabled, set database.enabled")
			os.Exit(1)
		}

		ctx := context.Background()
		db, err := initDB(ctx)
		if err != nil {
			logger.Error("Error initializing database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		url := resource.Canonicalize(args[0])
		entries, err := db.LedgerFor(ctx, url)
		if err != nil {
			logger.Error("Error reading ledger", "url", url, "error", err)
			os.Exit(1)
		}
		if len(entries) == 0 {
			logger.Info("No ledger entries", "url", url)
			return
		}
		writeLedger(os.Stdout, entries)
	},
}

// writeLedger prints one tab separated "time run cause owner" line per entry.
func writeLedger(w io.Writer, entries []models.LedgerEntry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.UTC().Format(time.RFC3339), e.RunID, e.Cause, e.OwnerKey)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.sub-hunter")
		viper.AddConfigPath("/etc/sub-hunter/")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

func newFetcher() *fetch.Client {
	f, err := fetch.New(fetch.Options{
		Transport:     settings.Fetch.Transport,
		UserAgent:     settings.Fetch.UserAgent,
		Headers:       settings.Fetch.Headers,
		TimeoutSec:    settings.Fetch.TimeoutSec,
		MaxBodyBytes:  settings.Fetch.MaxBodyBytes,
		MaxRetries:    settings.Fetch.MaxRetries,
		MaxBackoffSec: settings.Fetch.MaxBackoffSec,
	}, logger)
	if err != nil {
		logger.Error("Error creating fetch client", "error", err)
		os.Exit(1)
	}
	return f
}

func newClassifier() (*classify.Classifier, error) {
	c := settings.Classify
	opts := classify.Options{
		MinV2Links:           c.MinV2Links,
		MinClashProxies:      c.MinClashProxies,
		MinClashValidProxies: c.MinClashValidProxies,
		MinBodyLength:        c.MinBodyLength,
		SampleNodeCheck:      c.SampleNodeCheck,
		SampleNodeCount:      c.SampleNodeCount,
		SampleNodeTimeout:    time.Duration(c.SampleNodeTimeoutSec) * time.Second,
	}
	if c.SampleNodeCheck {
		prober, err := connectivity.NewProber(settings.Fetch.Transport, logger)
		if err != nil {
			return nil, fmt.Errorf("error creating node prober: %w", err)
		}
		opts.Prober = prober
	}
	return classify.New(opts), nil
}

func newEngine(resolver *resource.Resolver, fetcher *fetch.Client) *retention.Engine {
	r := settings.Retention
	sampler := freshness.NewSampler(fetcher, freshness.Options{
		Workers: r.SampleWorkers,
		Timeout: time.Duration(r.SampleTimeoutSec) * time.Second,
		TTL:     time.Duration(r.LastmodCacheTTLSec) * time.Second,
	}, logger)
	return retention.NewEngine(resolver, sampler, logger)
}

func newPolicy() retention.Policy {
	return retention.Policy{
		DailyIncrement: settings.Retention.DailyIncrement,
		FailThreshold:  settings.Retention.FailThreshold,
		PerOwnerLimit:  settings.Retention.PerOwnerLimit,
	}
}

func newStore() *history.FileStore {
	h := settings.History
	return history.NewFileStore(h.Path, h.Backup, h.ExportReserve, logger)
}

// newSink returns the configured sinks, or nil when none is configured.
func newSink() pipeline.Publisher {
	var sinks publish.Multi
	configs := []publish.Config{{System: publish.SystemFile, Path: settings.Output.Path}}
	if g := settings.Output.Gist; g.ID != "" && g.Token != "" {
		configs = append(configs, publish.Config{
			System:   publish.SystemGist,
			GistID:   g.ID,
			Token:    g.Token,
			Filename: g.Filename,
		})
	}
	for _, c := range configs {
		if c.System == publish.SystemFile && c.Path == "" {
			continue
		}
		sink, err := publish.NewSink(c, logger)
		if err != nil {
			logger.Error("Error creating sink", "system", c.System, "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}

func initDB(ctx context.Context) (*database.DB, error) {
	db, err := database.NewDB(settings.Database)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	err = db.InitSchema(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return db, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
