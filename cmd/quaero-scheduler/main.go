// Command quaero-scheduler runs the Ingestion Scheduler: a periodic
// admission loop that reads candidate SourceDomains and enqueues crawl
// jobs up to a computed capacity target.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/config"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/queuemgr"
	"github.com/ternarybob/quaero/internal/scheduler"
	badgerstorage "github.com/ternarybob/quaero/internal/storage/badger"
	"github.com/ternarybob/quaero/internal/statestore"
	"github.com/ternarybob/quaero/internal/broker"
)

// configPaths is a custom flag type that allows multiple -config flags,
// later files overriding earlier ones.
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
		fmt.Printf("quaero-scheduler version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("quaero.toml"); err == nil {
			configFiles = append(configFiles, "quaero.toml")
		}
	}

	cfg, err := config.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("scheduler: failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(cfg)
	common.PrintBanner(cfg, logger)

	db, err := badgerstorage.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: failed to open state store")
	}
	defer db.Close()

	store := statestore.New(db.Store())
	queue := queuemgr.New(broker.New(db.Store()), logger)

	sched := scheduler.New(scheduler.Config{
		Schedule:         cfg.Scheduler.Schedule,
		CrawlerInstances: cfg.Supervisor.DispatcherInstances,
		BufferFactor:     1.5,
		Limit:            cfg.Scheduler.BatchLimit,
		SourceStatus:     models.SourceDomainNew,
		TTR:              cfg.Queue.VisibilityTimeout,
	}, store, queue, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("scheduler: interrupt received, shutting down")
		sched.Stop()
		cancel()
	}()

	logger.Info().Str("schedule", cfg.Scheduler.Schedule).Msg("scheduler: starting admission loop")
	if err := sched.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: run exited with error")
	}

	common.PrintShutdownBanner(logger)
}
