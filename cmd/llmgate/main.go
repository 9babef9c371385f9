package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aschepis/backscratcher/llmgate/config"
	"github.com/aschepis/backscratcher/llmgate/gateway"
	"github.com/aschepis/backscratcher/llmgate/llm"
	llmgatelogger "github.com/aschepis/backscratcher/llmgate/logger"
	"github.com/aschepis/backscratcher/llmgate/notify"
	"github.com/aschepis/backscratcher/llmgate/ratelimit"
	"github.com/aschepis/backscratcher/llmgate/runtime"
	"github.com/aschepis/backscratcher/llmgate/usage"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// summary is printed to stdout when the simulated load finishes.
type summary struct {
	Elapsed    string                        `json:"elapsed"`
	Usage      usage.Stats                   `json:"usage"`
	RateLimits map[string]ratelimit.Snapshot `json:"rate_limits"`
}

func run() error {
	var (
		configPath  = flag.String("config", "", "Path to config file (default: ~/.llmgate/config.yaml or LLMGATE_CONFIG_PATH)")
		logFile     = flag.String("logfile", "", "Path to log file. If not set, logs to stderr")
		pretty      = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		providers   = flag.String("providers", "anthropic,openai,ollama", "Comma-separated simulated providers")
		requests    = flag.Int("requests", 100, "Number of simulated requests")
		workers     = flag.Int("workers", 8, "Number of concurrent callers")
		failureRate = flag.Float64("failure-rate", 0.2, "Probability that a simulated provider call fails")
		latency     = flag.Duration("latency", 20*time.Millisecond, "Simulated provider latency")
		streamEvery = flag.Int("stream-every", 5, "Stream every n-th request instead of a synchronous call (0 disables)")
		watch       = flag.Bool("watch", false, "Reload the config file on change and keep running until interrupted")
		report      = flag.Bool("report", false, "Log periodic usage reports and keep running until interrupted")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}
	if *failureRate < 0 || *failureRate > 1 {
		return fmt.Errorf("--failure-rate must be between 0 and 1")
	}

	config.LoadEnv(".env", "~/.llmgate/.env")

	logger, err := llmgatelogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	path := *configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Info().Str("path", path).Int("providers", len(cfg.Providers)).Msg("Loaded configuration")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory := newFactory(cfg, logger)

	if *watch {
		if err := config.Watch(ctx, path, logger, factory.ApplyConfig); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Config hot reload unavailable")
		}
	}

	if *report && !cfg.Report.Disabled {
		reporter, err := runtime.NewReporter(factory, cfg.Report.Schedule, nil, logger)
		if err != nil {
			return fmt.Errorf("failed to create reporter: %w", err)
		}
		go reporter.Start(ctx)
	}

	names := lo.Uniq(lo.Compact(lo.Map(strings.Split(*providers, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	})))
	sim := &simulation{
		factory:     factory,
		clients:     make(map[string]llm.Client, len(names)),
		models:      make(map[string]string, len(names)),
		requests:    *requests,
		workers:     *workers,
		streamEvery: *streamEvery,
	}
	for _, name := range names {
		sim.clients[name] = &simulatedClient{
			provider:    name,
			failureRate: *failureRate,
			latency:     *latency,
			rand:        rand.Float64,
		}
		sim.models[name] = name + "-sim"
	}

	started := time.Now()
	logger.Info().
		Strs("providers", lo.Keys(sim.clients)).
		Int("requests", *requests).
		Int("workers", *workers).
		Msg("Starting simulated load")
	sim.run(ctx)

	out := summary{
		Elapsed:    time.Since(started).Round(time.Millisecond).String(),
		Usage:      factory.UsageStats(started),
		RateLimits: factory.RateLimitStatuses(),
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	if *watch || *report {
		logger.Info().Msg("Waiting for interrupt")
		<-ctx.Done()
	}
	return nil
}

func newFactory(cfg *config.Config, logger zerolog.Logger) *gateway.Factory {
	opts := []gateway.Option{
		gateway.WithUsageOptions(usage.Options{
			MaxRecords:    cfg.Usage.MaxRecords,
			TrimThreshold: cfg.Usage.TrimThreshold,
			DefaultWindow: cfg.Usage.DefaultWindow,
		}),
	}
	if cfg.Alerts.Desktop {
		opts = append(opts, gateway.WithNotifier(notify.NewDesktop(cfg.Alerts.Cooldown, logger)))
	}

	factory := gateway.NewFactory(logger, opts...)
	factory.ApplyConfig(cfg)
	return factory
}
