package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/HolyFlex-tecjh/axion/internal/adapters/input"
	"github.com/HolyFlex-tecjh/axion/internal/adapters/output"
	"github.com/HolyFlex-tecjh/axion/internal/app"
	"github.com/HolyFlex-tecjh/axion/internal/domain"
	"github.com/HolyFlex-tecjh/axion/internal/ports"
	"github.com/HolyFlex-tecjh/axion/internal/tui"
)

var (
	eventsFile     string
	fullFile       bool
	demoMode       bool
	demoRate       int
	demoIncidents  int
	noTUI          bool
	jsonOutputPath string
	workerCount    int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Moderate a live event stream",
	Long: `Read platform events from a JSON lines file (or the built-in demo
generator), evaluate each one and publish the resulting alerts.

Examples:
  axion run --events /var/log/axion/events.jsonl
  axion run --demo --demo-rate 500
  axion run --events events.jsonl --no-tui --json alerts.jsonl`,
	RunE: runModeration,
}

func init() {
	runCmd.Flags().StringVarP(&eventsFile, "events", "e", "", "event log to follow")
	runCmd.Flags().BoolVar(&fullFile, "full", false, "process the event log from the beginning")
	runCmd.Flags().BoolVar(&demoMode, "demo", false, "generate synthetic guild traffic")
	runCmd.Flags().IntVar(&demoRate, "demo-rate", 200, "demo events per second")
	runCmd.Flags().IntVar(&demoIncidents, "demo-incidents", 5, "percentage of demo ticks that inject an incident")
	runCmd.Flags().BoolVar(&noTUI, "no-tui", false, "disable the operator console")
	runCmd.Flags().StringVar(&jsonOutputPath, "json", "", "write alerts as JSON lines to this file")
	runCmd.Flags().IntVarP(&workerCount, "workers", "w", 0, "number of evaluation workers")
}

func runModeration(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers.WorkerCount = workerCount
	}
	if jsonOutputPath != "" {
		cfg.Output.JSON.Enabled = true
		cfg.Output.JSON.Path = jsonOutputPath
		cfg.Output.JSON.Stdout = false
	}

	useTUI := !noTUI
	setupLogging(cfg.Logging.Level, !useTUI)

	source, label, err := buildSource(cfg)
	if err != nil {
		return err
	}

	moderator, err := app.NewModerator(cfg)
	if err != nil {
		return fmt.Errorf("building moderator: %w", err)
	}
	defer moderator.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	memAlerter := output.NewMemoryAlerter(cfg.Output.Memory)
	alerters := []ports.Alerter{memAlerter}
	var throttled []*output.ThrottledAlerter

	if cfg.Output.JSON.Enabled && !(useTUI && cfg.Output.JSON.Path == "") {
		jsonAlerter, err := output.NewJSONAlerter(output.JSONAlerterConfig{
			FilePath: cfg.Output.JSON.Path,
			Stdout:   cfg.Output.JSON.Path == "" && cfg.Output.JSON.Stdout,
			Pretty:   cfg.Output.JSON.Pretty,
		})
		if err != nil {
			return fmt.Errorf("creating JSON alerter: %w", err)
		}
		t := output.NewThrottledAlerter(jsonAlerter, cfg.Output.Throttle.Limit, cfg.Output.Throttle.Window)
		throttled = append(throttled, t)
		alerters = append(alerters, t)
		log.Info().Str("path", cfg.Output.JSON.Path).Msg("JSON alert output enabled")
	}

	if cfg.Output.Redis.Enabled {
		redisAlerter, err := output.NewRedisAlerter(ctx, output.RedisAlerterConfig{
			Addr:     cfg.Output.Redis.Addr,
			Password: cfg.Output.Redis.Password,
			DB:       cfg.Output.Redis.DB,
			Channel:  cfg.Output.Redis.Channel,
			Timeout:  cfg.Output.Redis.Timeout,
		})
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		t := output.NewThrottledAlerter(redisAlerter, cfg.Output.Throttle.Limit, cfg.Output.Throttle.Window)
		throttled = append(throttled, t)
		alerters = append(alerters, t)
		log.Info().
			Str("addr", cfg.Output.Redis.Addr).
			Str("channel", cfg.Output.Redis.Channel).
			Msg("Redis alert output enabled")
	}

	service := app.NewService(source, moderator, alerters, cfg.Workers)

	var metrics *output.PrometheusMetrics
	if cfg.Output.Metrics.Enabled {
		metrics = output.NewPrometheusMetrics("axion", output.GaugeSources{
			QueueLength: service.WorkerPool().QueueLength,
			Profiles:    func() int { return moderator.Stats().Profiles },
			KnownSpam:   func() int { return moderator.Stats().KnownSpam },
		})
		service.SetMetricsCollector(metrics)
		service.AddProcessingObserver(metrics)
		service.AddAlertSubscriber(metrics)

		health := output.NewHealthChecker(service.WorkerPool(), output.DefaultHealthCheckerConfig())
		metricsCfg := output.DefaultMetricsConfig()
		metricsCfg.Addr = cfg.Output.Metrics.Addr
		if err := metrics.StartServer(metricsCfg, health); err != nil {
			log.Warn().Err(err).Msg("Failed to start metrics server")
		}
	}

	var watcher *app.ConfigWatcher
	if viper.ConfigFileUsed() != "" {
		watcher = app.NewConfigWatcher(viper.GetViper(), cfg, 0, moderator.Reload)
		watcher.Start()
	}

	log.Info().
		Str("source", label).
		Int("workers", cfg.Workers.WorkerCount).
		Int("rules", len(moderator.Rules())).
		Msg("Starting Axion")

	if !useTUI {
		service.AddAlertSubscriber(alertLogger{})
		err = service.Run(ctx)
	} else {
		err = runWithTUI(ctx, service, label)
	}

	if watcher != nil {
		watcher.Stop()
	}
	for _, t := range throttled {
		_ = t.Close()
	}
	if metrics != nil {
		if stopErr := metrics.StopServer(); stopErr != nil {
			log.Warn().Err(stopErr).Msg("Failed to stop metrics server")
		}
	}

	stats := moderator.Stats()
	log.Info().
		Int64("evaluations", stats.Evaluations).
		Int64("actioned", stats.Actioned).
		Int64("raids", stats.RaidsDetected).
		Int("alerts_buffered", memAlerter.Count()).
		Msg("Axion stopped")
	return err
}

func buildSource(cfg *app.Config) (ports.EventSource, string, error) {
	switch {
	case demoMode:
		demoCfg := input.DefaultDemoConfig()
		demoCfg.Rate = demoRate
		demoCfg.IncidentPercent = demoIncidents
		demoCfg.BufferSize = cfg.Workers.BufferSize
		return input.NewDemoGenerator(demoCfg), "demo", nil
	case eventsFile != "":
		tailer := input.NewFileTailer(eventsFile, nil, cfg.Workers.BufferSize)
		tailer.SetFromBeginning(fullFile)
		return tailer, eventsFile, nil
	default:
		return nil, "", fmt.Errorf("either --events or --demo is required")
	}
}

func runWithTUI(ctx context.Context, service *app.Service, label string) error {
	console := tui.NewApp()
	console.SetSource(label)
	service.AddAlertSubscriber(console)
	service.AddDecisionObserver(console)

	if err := service.Start(ctx); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				console.SendMetrics(service.Metrics())
			}
		}
	}()

	err := console.Run()

	done := make(chan struct{})
	go func() {
		service.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Shutdown timed out")
	}

	if dropped := console.DroppedAlerts(); dropped > 0 {
		log.Warn().Int64("dropped", dropped).Msg("Console dropped alerts under load")
	}
	return err
}

// alertLogger prints alerts through the global logger in console mode.
type alertLogger struct{}

func (alertLogger) OnAlert(alert *domain.Alert) {
	event := log.Info()
	switch alert.Level {
	case domain.AlertLevelWarning:
		event = log.Warn()
	case domain.AlertLevelCritical:
		event = log.Error()
	}
	event.
		Str("kind", string(alert.Kind)).
		Str("guild", alert.GuildID).
		Str("user", alert.UserID).
		Str("action", alert.Action.String()).
		Msg(alert.Message)
}
