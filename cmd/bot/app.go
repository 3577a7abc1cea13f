package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quanttide/breakout-bot/internal/audit"
	"github.com/quanttide/breakout-bot/internal/config"
	"github.com/quanttide/breakout-bot/internal/console"
	"github.com/quanttide/breakout-bot/internal/control"
	"github.com/quanttide/breakout-bot/internal/events"
	"github.com/quanttide/breakout-bot/internal/exchange/bybit"
	"github.com/quanttide/breakout-bot/internal/logger"
	"github.com/quanttide/breakout-bot/internal/monitoring"
	"github.com/quanttide/breakout-bot/internal/orchestrator"
	"github.com/quanttide/breakout-bot/internal/risk"
	"github.com/quanttide/breakout-bot/internal/state"
)

// app owns the assembled bot: the control surface, the observability
// endpoints and the audit trail.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	orch       *orchestrator.Orchestrator
	controller *control.Controller
	recorder   *audit.Recorder
	health     *monitoring.HealthChecker
	server     *http.Server
	printer    *console.Printer
}

// buildApp wires every component from a validated config.
func buildApp(cfg *config.Config) (*app, error) {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	machine := state.NewMachine(log)
	riskMgr := risk.NewManager(cfg.Risk, log)
	bus := events.NewBus(log)

	client := bybit.NewClient(bybit.Config{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Testnet:   cfg.Exchange.Testnet,
		Demo:      cfg.Exchange.Demo,
		Category:  cfg.Exchange.Category,
	})
	// Depth is measured over the same band the sizer caps against.
	market := bybit.NewMarketData(client, cfg.Risk.DepthBandPct)

	collab := orchestrator.Collaborators{
		Scanner:    bybit.NewScanner(market, cfg.Symbols, cfg.Correlations, log),
		Levels:     bybit.NewLevelBuilder(market, log),
		Signals:    bybit.NewSignalGenerator(market, cfg.Correlations, log),
		Executor:   bybit.NewExecutor(client),
		Positions:  bybit.NewPositionBook(client, cfg.Correlations),
		MarketData: market,
		Account:    bybit.NewAccountReader(client),
	}

	orch, err := orchestrator.New(machine, riskMgr, bus, collab, log)
	if err != nil {
		return nil, err
	}

	delays := orchestrator.DefaultPhaseDelays()
	delays.Scanning = cfg.ScanningDelay(delays.Scanning)
	delays.SignalWait = cfg.SignalWaitDelay(delays.SignalWait)
	delays.Execution = cfg.ExecutionDelay(delays.Execution)
	delays.Managing = cfg.ManagingDelay(delays.Managing)
	orch.SetDelays(delays)

	recorder := audit.NewRecorder(audit.DefaultCapacity)
	health := monitoring.NewHealthChecker(0)
	// Mark the starting state; the gauge is otherwise only written on
	// transitions.
	monitoring.SetCurrentState(machine.CurrentState().String())
	bus.Subscribe(monitoring.RecordEvent)
	bus.Subscribe(health.RecordEvent)
	bus.Subscribe(recorder.Record)

	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.NewMetricsHandler())
	mux.Handle("/healthz", health)

	return &app{
		cfg:        cfg,
		log:        log,
		orch:       orch,
		controller: control.NewController(machine, riskMgr, orch, bus, log),
		recorder:   recorder,
		health:     health,
		server:     &http.Server{Addr: cfg.HTTPAddr, Handler: mux},
		printer:    console.NewPrinter(),
	}, nil
}

// run starts the trading cycle and blocks until it ends, either on its
// own (emergency halt) or on an interrupt signal. Returns the process
// exit code.
func (a *app) run(statusEvery time.Duration) int {
	defer a.log.Sync() //nolint:errcheck

	a.printer.PrintStartup(a.orch.SessionID(), a.cfg.Symbols, a.cfg.Risk)
	a.log.Info("starting breakout bot",
		zap.String("session_id", a.orch.SessionID()),
		zap.Strings("symbols", a.cfg.Symbols),
		zap.String("http_addr", a.cfg.HTTPAddr))

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("http server failed", zap.Error(err))
		}
	}()

	if err := a.controller.Start(context.Background()); err != nil {
		a.log.Error("failed to start trading cycle", zap.Error(err))
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	waitCh := make(chan error, 1)
	go func() { waitCh <- a.controller.Wait() }()

	ticker := time.NewTicker(statusEvery)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case sig := <-sigCh:
			a.log.Info("shutdown signal received", zap.String("signal", sig.String()))
			if err := a.controller.Stop(); err != nil {
				a.log.Warn("stop did not complete cleanly", zap.Error(err))
			}
			runErr = <-waitCh
			break loop
		case runErr = <-waitCh:
			break loop
		case <-ticker.C:
			a.publishStatus()
		}
	}

	a.shutdown()

	if runErr != nil {
		a.log.Error("trading cycle ended with error", zap.Error(runErr))
		return 1
	}
	a.log.Info("trading cycle ended cleanly")
	return 0
}

// publishStatus refreshes the gauges and prints the status table.
func (a *app) publishStatus() {
	status := a.controller.Status()
	monitoring.UpdateRisk(status.Risk.DailyRiskUsedPct, status.Risk.KillSwitchTriggered, status.OpenPositionCount)
	a.health.SetKillSwitch(status.Risk.KillSwitchTriggered)
	a.printer.PrintStatus(status)
}

// shutdown stops the HTTP server and writes the audit workbook.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn("http server shutdown failed", zap.Error(err))
	}

	a.printer.PrintHistory(a.controller.History(20))

	if a.cfg.AuditPath == "" {
		return
	}
	exporter := audit.NewExcelExporter()
	if err := exporter.Export(a.recorder, a.cfg.AuditPath); err != nil {
		a.log.Error("audit export failed", zap.Error(err))
		return
	}
	a.log.Info("audit trail exported",
		zap.String("path", a.cfg.AuditPath),
		zap.Int("events", a.recorder.Len()),
		zap.Uint64("dropped", a.recorder.Dropped()))
}
