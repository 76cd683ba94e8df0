package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"

	"github.com/ternarybob/quaero/internal/config"
)

// PrintBanner displays the application startup banner
func PrintBanner(cfg *config.Config, logger arbor.ILogger) {
	version := GetVersion()
	build := GetBuild()

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("QUAERO")
	b.PrintCenteredText("Distributed Crawl & Parse Pipeline")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Environment", cfg.Environment, 15)
	b.PrintKeyValue("State Store", cfg.Storage.Badger.Path, 15)
	b.PrintKeyValue("Content Root", cfg.Storage.Filesystem.ContentRoot, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("version", version).
		Str("build", build).
		Str("environment", cfg.Environment).
		Str("badger_path", cfg.Storage.Badger.Path).
		Str("content_root", cfg.Storage.Filesystem.ContentRoot).
		Msg("Application started")

	printCapabilities(cfg, logger)
	fmt.Printf("\n")
}

// printCapabilities displays the pipeline's configured task types and
// crawler/scheduler settings.
func printCapabilities(cfg *config.Config, logger arbor.ILogger) {
	fmt.Printf("Configuration:\n")
	fmt.Printf("   - Scheduler cron: %s (batch limit %d)\n", cfg.Scheduler.Schedule, cfg.Scheduler.BatchLimit)
	fmt.Printf("   - Crawler concurrency: %d, JS rendering: %v\n", cfg.Crawler.MaxConcurrency, cfg.Crawler.EnableJavaScript)
	fmt.Printf("   - Parser task types (%d): %v\n", len(cfg.Parser.TaskTypes), cfg.Parser.TaskTypes)
	fmt.Printf("   - Workers per task type: %d\n", cfg.Parser.WorkersPerTask)

	logger.Info().
		Str("scheduler_cron", cfg.Scheduler.Schedule).
		Int("crawler_max_concurrency", cfg.Crawler.MaxConcurrency).
		Bool("javascript_enabled", cfg.Crawler.EnableJavaScript).
		Strs("parser_task_types", cfg.Parser.TaskTypes).
		Int("workers_per_task", cfg.Parser.WorkersPerTask).
		Msg("Pipeline configuration")
}

// PrintShutdownBanner displays the application shutdown banner
func PrintShutdownBanner(logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText("QUAERO")
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Msg("Application shutting down")
}

// PrintColorizedMessage prints a message with specified color; the logger argument is not used
func PrintColorizedMessage(color, message string, logger arbor.ILogger) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintSuccess prints a success message in green and logs it
func PrintSuccess(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("[ok] %s", message), logger)
	logger.Info().Str("type", "success").Msg(message)
}

// PrintError prints an error message in red and logs it
func PrintError(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("[err] %s", message), logger)
	logger.Error().Str("type", "error").Msg(message)
}

// PrintWarning prints a warning message in yellow and logs it
func PrintWarning(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("[warn] %s", message), logger)
	logger.Warn().Str("type", "warning").Msg(message)
}

// PrintInfo prints an info message in cyan and logs it
func PrintInfo(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorCyan, fmt.Sprintf("[info] %s", message), logger)
	logger.Info().Str("type", "info").Msg(message)
}
