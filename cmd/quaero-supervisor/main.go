// Command quaero-supervisor runs the whole pipeline — scheduler,
// dispatcher, and one Parser Worker Runtime per configured task type —
// as a single declared in-process fleet, with preflight health checks and
// automatic restart of any role that exits early.
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
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/parserrun"
	"github.com/ternarybob/quaero/internal/queuemgr"
	"github.com/ternarybob/quaero/internal/scheduler"
	badgerstorage "github.com/ternarybob/quaero/internal/storage/badger"
	"github.com/ternarybob/quaero/internal/statestore"
	"github.com/ternarybob/quaero/internal/supervisor"
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
		fmt.Printf("quaero-supervisor version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("quaero.toml"); err == nil {
			configFiles = append(configFiles, "quaero.toml")
		}
	}

	cfg, err := config.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("supervisor: failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupLogger(cfg)
	common.PrintBanner(cfg, logger)

	db, err := badgerstorage.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		logger.Fatal().Err(err).Msg("supervisor: failed to open state store")
	}
	defer db.Close()

	brokerClient := broker.New(db.Store())
	store := statestore.New(db.Store())
	queue := queuemgr.New(brokerClient, logger)

	content, err := contentstore.New(cfg.Storage.Filesystem.ContentRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("supervisor: failed to open content store")
	}

	registry := taskhandler.NewRegistry()
	tasks.RegisterDefaults(registry)

	roles := []supervisor.Role{
		schedulerRole(cfg, store, queue, logger),
		dispatcherRole(cfg, store, queue, content, logger),
	}
	roles = append(roles, parserRoles(cfg, store, queue, content, registry, logger)...)

	sup := supervisor.New(supervisor.Config{
		HealthInterval:  cfg.Supervisor.HealthInterval,
		ShutdownTimeout: cfg.Supervisor.ShutdownTimeout,
		BrokerProbeTube: queuemgr.CrawlTube(),
		DiskPath:        cfg.Storage.Filesystem.ContentRoot,
	}, roles, brokerClient, db.Store(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("supervisor: interrupt received, shutting down fleet")
		sup.Shutdown()
		cancel()
	}()

	logger.Info().Int("roles", len(roles)).Msg("supervisor: starting fleet")
	if err := sup.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("supervisor: fleet run exited with error")
	}

	common.PrintShutdownBanner(logger)
}

func schedulerRole(cfg *config.Config, store *statestore.Store, queue *queuemgr.Manager, logger arbor.ILogger) supervisor.Role {
	sched := scheduler.New(scheduler.Config{
		Schedule:         cfg.Scheduler.Schedule,
		CrawlerInstances: cfg.Supervisor.DispatcherInstances,
		BufferFactor:     1.5,
		Limit:            cfg.Scheduler.BatchLimit,
		SourceStatus:     models.SourceDomainNew,
		TTR:              cfg.Queue.VisibilityTimeout,
	}, store, queue, logger)

	return supervisor.Role{
		Name:      "scheduler",
		Instances: cfg.Supervisor.SchedulerInstances,
		Required:  true,
		Restart:   cfg.Supervisor.RestartCrashed,
		Run: func(ctx context.Context, _ int) error {
			return sched.Run(ctx)
		},
	}
}

func dispatcherRole(cfg *config.Config, store *statestore.Store, queue *queuemgr.Manager, content *contentstore.Store, logger arbor.ILogger) supervisor.Role {
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

	return supervisor.Role{
		Name:      "dispatcher",
		Instances: cfg.Supervisor.DispatcherInstances,
		Required:  true,
		Restart:   cfg.Supervisor.RestartCrashed,
		Run: func(ctx context.Context, instanceID int) error {
			disp := dispatcher.New(dispatcher.Config{
				ReserveTimeout:    cfg.Dispatcher.ReserveTimeout,
				MinTouchThreshold: cfg.Dispatcher.TouchInterval,
			}, queue, store, content, engine, fan, logger)
			return disp.Run(ctx)
		},
	}
}

func parserRoles(cfg *config.Config, store *statestore.Store, queue *queuemgr.Manager, content *contentstore.Store, registry *taskhandler.Registry, logger arbor.ILogger) []supervisor.Role {
	roles := make([]supervisor.Role, 0, len(cfg.Parser.TaskTypes))
	for _, taskType := range cfg.Parser.TaskTypes {
		taskType := taskType
		handler, ok := registry.Get(taskType)
		if !ok {
			logger.Warn().Str("task_type", taskType).Msg("supervisor: no handler registered for configured task type, skipping")
			continue
		}

		roles = append(roles, supervisor.Role{
			Name:      "parser-" + taskType,
			Instances: cfg.Parser.WorkersPerTask,
			Restart:   cfg.Supervisor.RestartCrashed,
			Run: func(ctx context.Context, _ int) error {
				w := parserrun.New(parserrun.Config{
					TaskType:       taskType,
					ReserveTimeout: cfg.Queue.ReserveTimeout,
				}, queue, store, content, handler, logger)
				return w.Run(ctx)
			},
		})
	}
	return roles
}
