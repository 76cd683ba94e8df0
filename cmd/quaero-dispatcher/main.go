// Command quaero-dispatcher runs the Crawl Dispatcher: a long-running
// consumer of the crawl tube that drives the Crawl Engine for each leased
// job and fans the resulting pages out to the parser task queues.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/broker"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/config"
	"github.com/ternarybob/quaero/internal/contentstore"
	"github.com/ternarybob/quaero/internal/crawlengine/httpengine"
	"github.com/ternarybob/quaero/internal/dispatcher"
	"github.com/ternarybob/quaero/internal/fanout"
	"github.com/ternarybob/quaero/internal/queuemgr"
	badgerstorage "github.com/ternarybob/quaero/internal/storage/badger"
	"github.com/ternarybob/quaero/internal/statestore"
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
		fmt.Printf("quaero-dispatcher version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("quaero.toml"); err == nil {
			configFiles = append(configFiles, "quaero.toml")
		}
	}

	cfg, err := config.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("dispatcher: failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(cfg)
	common.PrintBanner(cfg, logger)

	db, err := badgerstorage.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: failed to open state store")
	}
	defer db.Close()

	store := statestore.New(db.Store())
	queue := queuemgr.New(broker.New(db.Store()), logger)

	content, err := contentstore.New(cfg.Storage.Filesystem.ContentRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: failed to open content store")
	}

	engine := httpengine.New(httpengine.Config{
		UserAgent:          cfg.Crawler.UserAgent,
		MaxConcurrency:     cfg.Crawler.MaxConcurrency,
		RequestDelay:       cfg.Crawler.RequestDelay,
		RequestTimeout:     cfg.Crawler.RequestTimeout,
		MaxBodySize:        cfg.Crawler.MaxBodySize,
		FollowRobotsTxt:    cfg.Crawler.FollowRobotsTxt,
		EnableJavaScript:   cfg.Crawler.EnableJavaScript,
		JavaScriptWaitTime: cfg.Crawler.JavaScriptWaitTime,
		DefaultMaxPages:    cfg.Crawler.DefaultMaxPages,
	}, logger)

	fanTasks := make([]fanout.TaskConfig, 0, len(cfg.Parser.TaskTypes))
	for _, t := range cfg.Parser.TaskTypes {
		fanTasks = append(fanTasks, fanout.TaskConfig{
			TaskType: t,
			Priority: queuemgr.PriorityNormal,
			TTR:      cfg.Queue.VisibilityTimeout,
		})
	}
	fan := fanout.New(fanout.Config{Tasks: fanTasks}, store, queue, logger)

	disp := dispatcher.New(dispatcher.Config{
		ReserveTimeout:    cfg.Dispatcher.ReserveTimeout,
		MinTouchThreshold: cfg.Dispatcher.TouchInterval,
	}, queue, store, content, engine, fan, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("dispatcher: interrupt received, shutting down")
		disp.Shutdown()
		cancel()
	}()

	logger.Info().Msg("dispatcher: starting crawl consumer loop")
	if err := disp.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("dispatcher: run exited with error")
	}

	common.PrintShutdownBanner(logger)
}
