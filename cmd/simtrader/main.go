package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"simtrader/internal/alert"
	"simtrader/internal/config"
	"simtrader/internal/core"
	"simtrader/internal/data"
	"simtrader/internal/engine"
	"simtrader/internal/monitor"
	"simtrader/internal/state"
	"simtrader/internal/strategy"
	"simtrader/pkg/cli"
	"simtrader/pkg/logging"

	"golang.org/x/sync/errgroup"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:], modeRun)
	case "resume":
		runCmd(os.Args[2:], modeResume)
	case "fork":
		runCmd(os.Args[2:], modeFork)
	case "tags":
		tagsCmd(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("simtrader version %s (built %s)\n", version, buildTime)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: simtrader <command> [flags]

Commands:
  run      start a fresh run
  resume   continue from a saved state tag
  fork     branch a new timeline from a saved state tag
  tags     list saved state tags
  version  print version information`)
}

type startMode int

const (
	modeRun startMode = iota
	modeResume
	modeFork
)

func runCmd(args []string, mode startMode) {
	fs := flag.NewFlagSet("simtrader", flag.ExitOnError)
	configPath := fs.String("config", "configs/simtrader.yaml", "Path to configuration file")
	dataDir := fs.String("data", "data", "Path to the CSV market data directory")
	tag := fs.String("tag", "", "Saved state tag (resume and fork)")
	reinitialize := fs.Bool("reinitialize", false, "Call strategy Initialize again after a fork")
	paused := fs.Bool("paused", false, "Start in the paused state")
	fs.Parse(args)

	if mode != modeRun {
		if *tag == "" {
			fmt.Fprintln(os.Stderr, "the -tag flag is required")
			os.Exit(2)
		}
		if err := cli.ValidateTag(*tag); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid tag: %v\n", err)
			os.Exit(2)
		}
	}
	if err := cli.ValidatePath(*dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid data directory: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobalLogger(logger)

	logger.Info("Starting simtrader",
		"version", version,
		"mode", cfg.Engine.Mode,
		"strategy", cfg.Engine.StrategyName,
		"frequency", cfg.Engine.Frequency)

	strat, err := strategy.Create(cfg.Engine.StrategyName)
	if err != nil {
		logger.Fatal("Unknown strategy", "error", err)
	}

	csvProvider, err := data.NewCSVProvider(*dataDir, logger)
	if err != nil {
		logger.Fatal("Failed to open market data", "dir", *dataDir, "error", err)
	}
	provider := data.NewRetryingProvider(csvProvider, logger)

	store, err := state.NewSQLiteStore(cfg.State.Path)
	if err != nil {
		logger.Fatal("Failed to open state store", "path", cfg.State.Path, "error", err)
	}
	defer store.Close()

	eng := engine.New(cfg, provider, strat, store, core.SystemClock{}, logger)

	if cfg.Alert.SlackWebhook != "" || cfg.Alert.TelegramBotToken != "" {
		notifier := alert.NewNotifier(logger)
		if cfg.Alert.SlackWebhook != "" {
			notifier.AddChannel(alert.NewSlackChannel(cfg.Alert.SlackWebhook))
		}
		if cfg.Alert.TelegramBotToken != "" {
			notifier.AddChannel(alert.NewTelegramChannel(cfg.Alert.TelegramBotToken, cfg.Alert.TelegramChatID))
		}
		eng.SetNotifier(notifier)
	}

	var mon *monitor.Monitor
	if cfg.Monitor.Enable {
		mon = monitor.New(eng.Session(), cfg.Monitor, logger)
		eng.SetMonitor(mon)
		if err := mon.Start(); err != nil {
			logger.Error("Failed to start monitor", "error", err)
		}
	}

	// First signal stops gracefully, the second one kills the process.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutdown signal received; stopping after the current event")
		eng.Stop()
		<-sigCh
		logger.Warn("Second signal received; exiting immediately")
		os.Exit(1)
	}()

	var g errgroup.Group
	g.Go(func() error {
		switch mode {
		case modeResume:
			return eng.Resume(*tag, *paused)
		case modeFork:
			return eng.Fork(*tag, *reinitialize, *paused)
		default:
			return eng.Run(*paused)
		}
	})
	if err := g.Wait(); err != nil {
		logger.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func tagsCmd(args []string) {
	fs := flag.NewFlagSet("tags", flag.ExitOnError)
	configPath := fs.String("config", "configs/simtrader.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := state.NewSQLiteStore(cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open state store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	tags, err := store.Tags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list tags: %v\n", err)
		os.Exit(1)
	}
	for _, tag := range tags {
		fmt.Println(tag)
	}
}
