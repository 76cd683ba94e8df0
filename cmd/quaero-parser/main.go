// Command quaero-parser runs the Parser Worker Runtime: one or more
// Worker instances per configured task type, each reserving parse jobs
// from its dedicated tube and writing typed extraction results back into
// the ParsedDocument that seeded them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/broker"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/config"
	"github.com/ternarybob/quaero/internal/contentstore"
	"github.com/ternarybob/quaero/internal/parserrun"
	"github.com/ternarybob/quaero/internal/queuemgr"
	badgerstorage "github.com/ternarybob/quaero/internal/storage/badger"
	"github.com/ternarybob/quaero/internal/statestore"
	"github.com/ternarybob/quaero/internal/taskhandler"
	"github.com/ternarybob/quaero/internal/tasks"
)

type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (repeatable, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("quaero-parser version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("quaero.toml"); err == nil {
			configFiles = append(configFiles, "quaero.toml")
		}
	}

	cfg, err := config.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("parser: failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(cfg)
	common.PrintBanner(cfg, logger)

	db, err := badgerstorage.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("parser: failed to open state store")
	}
	defer db.Close()

	store := statestore.New(db.Store())
	queue := queuemgr.New(broker.New(db.Store()), logger)

	content, err := contentstore.New(cfg.Storage.Filesystem.ContentRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("parser: failed to open content store")
	}

	registry := taskhandler.NewRegistry()
	tasks.RegisterDefaults(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workers []*parserrun.Worker
	var wg sync.WaitGroup

	for _, taskType := range cfg.Parser.TaskTypes {
		handler, ok := registry.Get(taskType)
		if !ok {
			logger.Warn().Str("task_type", taskType).Msg("parser: no handler registered for configured task type, skipping")
			continue
		}

		for i := 0; i < cfg.Parser.WorkersPerTask; i++ {
			w := parserrun.New(parserrun.Config{
				TaskType:       taskType,
				ReserveTimeout: cfg.Queue.ReserveTimeout,
			}, queue, store, content, handler, logger)
			workers = append(workers, w)

			wg.Add(1)
			common.SafeGoWithContext(ctx, logger, fmt.Sprintf("parser-%s-%d", taskType, i), func() {
				defer wg.Done()
				if err := w.Run(ctx); err != nil {
					logger.Error().Err(err).Str("task_type", taskType).Msg("parser: worker exited with error")
				}
			})
		}
	}

	logger.Info().Int("worker_count", len(workers)).Int("task_types", len(cfg.Parser.TaskTypes)).
		Msg("parser: workers started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("parser: interrupt received, shutting down")
	for _, w := range workers {
		w.Shutdown()
	}
	cancel()
	wg.Wait()

	common.PrintShutdownBanner(logger)
}
