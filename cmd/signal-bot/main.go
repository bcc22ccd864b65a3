package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"signal-relay/internal/breaker"
	"signal-relay/internal/config"
	"signal-relay/internal/executor"
	"signal-relay/internal/feed"
	"signal-relay/internal/ingest"
	"signal-relay/internal/journal"
	"signal-relay/internal/logger"
	"signal-relay/internal/models"
	"signal-relay/internal/monitoring"
	"signal-relay/internal/notify"
	"signal-relay/internal/persistence"
	"signal-relay/internal/reconciler"
	"signal-relay/internal/risk"
	"signal-relay/internal/symbols"
	"signal-relay/internal/venue"
	"signal-relay/internal/venue/bybit"
	"signal-relay/internal/venue/paper"
)

const (
	AppName    = "Signal Relay"
	AppVersion = "1.0.0"
)

func main() {
	configFile := flag.String("config", "signal-relay", "config file name or path")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		return
	}

	// Load environment first so credentials reach config validation
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using system environment")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Log)
	log := logger.S()
	log.Infof("%s v%s starting, account %s, venue %s",
		AppName, AppVersion, cfg.AccountID, cfg.Venue.Name)

	if err := run(cfg); err != nil && err != context.Canceled {
		log.Fatalf("fatal: %v", err)
	}
	log.Infof("shutdown complete")
}

func run(cfg *config.Config) error {
	log := logger.S()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	gateway, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	store, err := persistence.NewBadgerStore(cfg.Persistence.Path)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer store.Close()

	// Messenger, gated by the circuit breaker
	var messenger notify.Messenger = notify.Null{}
	if cfg.Notifications.TelegramToken != "" {
		messenger = notify.NewTelegram(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
	} else {
		log.Warnf("no telegram token configured, notifications disabled")
	}

	brk, err := breaker.New(cfg.Breaker, store, cfg.AccountID, func() (float64, float64, error) {
		acct, err := gateway.AccountInfo(ctx)
		if err != nil {
			return 0, 0, err
		}
		return acct.Equity, acct.Balance, nil
	})
	if err != nil {
		return err
	}
	gated := notify.NewGated(messenger, brk)

	brk.OnStopped = func(reason string) {
		// Bypasses the gate deliberately: the halt alert itself must go out.
		if _, err := messenger.Send(ctx, "Trading halted: "+reason); err != nil {
			log.Errorf("failed to send halt alert: %v", err)
		}
	}
	brk.OnResumed = func() {
		if _, err := messenger.Send(ctx, "Drawdown cooldown elapsed, notifications resumed"); err != nil {
			log.Errorf("failed to send resume alert: %v", err)
		}
	}

	// Symbol resolver over the tradable universe
	instruments, err := gateway.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("listing instruments: %w", err)
	}
	universe := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		universe = append(universe, inst.Symbol)
	}
	resolver := symbols.NewResolver(cfg.Symbols.Mode, universe, cfg.Symbols.Aliases)
	log.Infof("symbol resolver ready: %d tradable instruments, mode %s", len(universe), cfg.Symbols.Mode)

	sizer := risk.NewEngine(cfg.Risk, gateway)
	exec := executor.New(cfg.Executor, gateway, resolver, sizer, cfg.Risk.StopBufferPoints)

	sessionJournal := journal.New()

	rec := reconciler.New(gateway, store, gated, cfg.AccountID)
	rec.OnClosedTrade = sessionJournal.RecordClose
	if err := rec.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping reconciler: %w", err)
	}

	health := monitoring.NewHealthChecker()
	health.SetVenueConnected(true)
	rec.OnTick = func(now time.Time) error {
		health.SetTick(now)
		if err := brk.Tick(now); err != nil {
			return err
		}
		health.SetBreakerStopped(brk.Stopped())
		return nil
	}

	startServers(cfg, health)

	// Venue transaction feed into the reconciler loop
	pollInterval := time.Duration(cfg.Feed.PollInterval * float64(time.Second))
	poller := venue.NewSnapshotPoller(gateway, pollInterval, log)
	txCh := make(chan models.Transaction, 256)
	go func() {
		defer close(txCh)
		err := poller.Subscribe(ctx, func(tx models.Transaction) {
			select {
			case txCh <- tx:
			case <-ctx.Done():
			}
		})
		if err != nil && ctx.Err() == nil {
			log.Errorf("venue feed stopped: %v", err)
			health.SetVenueConnected(false)
			health.SetError(err.Error())
		}
	}()

	// Signal ingestion loop
	loop := ingest.New(feed.NewCSVSource(cfg.Feed.Path), exec, pollInterval)
	loop.OnExecuted = sessionJournal.RecordExecution
	loop.OnPolled = health.SetFeedPoll
	go func() {
		loop.Run(ctx)
	}()

	runErr := rec.Run(ctx, txCh, time.Second)

	sessionJournal.PrintSummary()
	if cfg.Journal.ExportPath != "" {
		if err := sessionJournal.ExportXLSX(cfg.Journal.ExportPath); err != nil {
			log.Errorf("journal export failed: %v", err)
		} else {
			log.Infof("journal exported to %s", cfg.Journal.ExportPath)
		}
	}
	return runErr
}

func buildGateway(cfg *config.Config) (venue.Gateway, error) {
	switch cfg.Venue.Name {
	case "bybit":
		return bybit.New(bybit.Config{
			APIKey:    cfg.Venue.APIKey,
			APISecret: cfg.Venue.APISecret,
			Demo:      cfg.Venue.Demo,
			AccountID: cfg.AccountID,
		}), nil
	case "paper":
		gw := paper.New(models.AccountInfo{
			ID:         cfg.AccountID,
			Currency:   "USD",
			Balance:    10000,
			Equity:     10000,
			FreeMargin: 10000,
		})
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown venue %q", cfg.Venue.Name)
	}
}

func startServers(cfg *config.Config, health *monitoring.HealthChecker) {
	log := logger.S()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Monitoring.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.NewMetricsHandler())
		log.Infof("metrics listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server: %v", err)
		}
	}()

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Monitoring.HealthPort)
		mux := http.NewServeMux()
		mux.Handle("/healthz", health)
		log.Infof("health listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("health server: %v", err)
		}
	}()
}
