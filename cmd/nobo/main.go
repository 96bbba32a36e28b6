package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/sandwichfarm/nobo/internal/agent"
	"github.com/sandwichfarm/nobo/internal/config"
	"github.com/sandwichfarm/nobo/internal/ops"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "manual"
)

func main() {
	// Define subcommands
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("nobo %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		fmt.Printf("  by:     %s\n", builtBy)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("nobo - Autonomous Nostr Agent")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  nobo init              Generate example configuration")
		fmt.Println("  nobo --version         Show version information")
		fmt.Println("  nobo --config <path>   Start with configuration file")
		os.Exit(1)
	}

	// Secrets (NOBO_NSEC, OPENAI_API_KEY) come from the environment; a
	// local .env is a convenience, its absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	logger.LogStartup(version, commit)

	a, err := agent.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.LogShutdown(sig.String())
	case err := <-a.Fatal():
		logger.LogShutdown(err.Error())
		return err
	}

	return nil
}

func handleInit() {
	exampleConfig, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}

	// Write to stdout
	fmt.Print(string(exampleConfig))
}
