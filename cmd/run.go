package cmd

import (
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"larkspur.is/curfew/internal/logging"
	"larkspur.is/curfew/internal/metrics"
	"larkspur.is/curfew/internal/probe"
	"larkspur.is/curfew/internal/remote"
	"larkspur.is/curfew/internal/wake"
)

// RunDaemon starts the controller loop: periodic exception sweeps, periodic
// remote refreshes, wake dispatch, the rule-change event stream, and the
// metrics endpoint. It blocks until SIGINT or SIGTERM.
func RunDaemon(configFile string, debug bool) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	if debug {
		logCfg.Level = logging.LevelDebug
	}
	logger := logging.New(logCfg)
	logging.SetDefault(logger)

	table := wake.NewTable()
	wakes := wake.NewTimerScheduler(table, nil, logger)

	ctrl, repo, client, err := buildController(cfg, logger, wakes)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctrl.RegisterWakeActions(table)
	if err := ctrl.SaveSettings(cfg.Controller.URL, cfg.Controller.Site); err != nil {
		logger.Warn("failed to persist settings", "error", err)
	}

	reg := metrics.Get()
	pinger := probe.New(gatewayHost(cfg.Controller.URL), nil, logger, func(r probe.Result) {
		reg.RecordProbe(r.Reachable)
	})

	if err := ctrl.Refresh(); err != nil {
		logger.Warn("initial refresh failed", "error", err)
		pinger.Request()
	}

	wakes.Start()
	defer wakes.Stop()

	if cfg.Daemon != nil && cfg.Daemon.Listen != "" {
		go serveMetrics(cfg.Daemon.Listen, logger)
	}
	go tailEvents(client, ctrl, pinger, logger)

	sweepTicker := time.NewTicker(cfg.Daemon.EvaluateInterval())
	defer sweepTicker.Stop()
	refreshTicker := time.NewTicker(cfg.Daemon.RefreshInterval())
	defer refreshTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("curfew daemon started",
		"controller", cfg.Controller.URL,
		"sweep_interval", cfg.Daemon.EvaluateInterval(),
		"refresh_interval", cfg.Daemon.RefreshInterval())

	for {
		select {
		case <-sweepTicker.C:
			if err := ctrl.SweepExceptions(); err != nil {
				logger.Warn("exception sweep failed", "error", err)
				pinger.Request()
			}
		case <-refreshTicker.C:
			if err := ctrl.Refresh(); err != nil {
				logger.Warn("refresh failed", "error", err)
				pinger.Request()
			}
		case sig := <-sigCh:
			logger.Info("shutting down", "signal", sig.String())
			return nil
		}
	}
}

// tailEvents keeps the rule-change stream open, refreshing on every event.
// The stream is best effort: on any error it backs off and reconnects, and
// the periodic refresh covers whatever was missed in between.
func tailEvents(client *remote.HTTPClient, refresher interface{ Refresh() error }, pinger *probe.Pinger, logger *logging.Logger) {
	backoff := time.Second
	for {
		err := client.TailEvents(func(ev remote.Event) {
			logger.Debug("rule change event", "type", ev.Type, "rule_id", ev.RuleID)
			if err := refresher.Refresh(); err != nil {
				logger.Warn("event-triggered refresh failed", "error", err)
			}
		})
		logger.Debug("event stream closed", "error", err, "retry_in", backoff)
		pinger.Request()

		time.Sleep(backoff)
		if backoff < time.Minute {
			backoff *= 2
		}
	}
}

func serveMetrics(listen string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	logger.Info("metrics listening", "addr", listen)
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}

// gatewayHost extracts the probe target from the controller URL.
func gatewayHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
