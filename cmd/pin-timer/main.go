// Command pin-timer runs a cooperative software-timer scheduler on a Raspberry
// Pi, driving GPIO waveforms and publishing timer activity to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/sweeney/pin-timer/internal/clock"
	"github.com/sweeney/pin-timer/internal/config"
	"github.com/sweeney/pin-timer/internal/gpio"
	"github.com/sweeney/pin-timer/internal/logging"
	"github.com/sweeney/pin-timer/internal/metrics"
	"github.com/sweeney/pin-timer/internal/mqtt"
	"github.com/sweeney/pin-timer/internal/status"
	"github.com/sweeney/pin-timer/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (defaults apply when empty)")
	poll := flag.Duration("poll", config.DefaultPoll, "Scheduler update interval")
	broker := flag.String("broker", config.DefaultBroker, "MQTT broker address")
	httpAddr := flag.String("http", config.DefaultHTTPAddr, "HTTP status address (empty to disable)")
	logLevel := flag.String("log-level", config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	printConfig := flag.Bool("print-config", false, "Print the resolved config and exit")

	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	// Flags given explicitly on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "poll":
			cfg.Poll = *poll
		case "broker":
			cfg.Broker = *broker
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := cfg.Marshal()
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	log := logging.New(cfg.LogLevel, os.Stderr)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func run(cfg *config.Config, log zerolog.Logger) error {
	pins, err := gpio.NewRealWriter(cfg.GPIOChip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer pins.Close()

	brokerPub, err := mqtt.NewRealPublisher(cfg.Broker, log)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer brokerPub.Close()
	publisher := mqtt.NewThrottled(brokerPub, cfg.PublishRate)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      cfg.Poll.Milliseconds(),
		Capacity:    cfg.Capacity,
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		HTTPAddr:    cfg.HTTPAddr,
		PublishRate: cfg.PublishRate,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	d, err := newDaemon(cfg, daemonDeps{
		Clock:     clock.NewSystem(),
		Pins:      pins,
		Publisher: publisher,
		Tracker:   tracker,
		Metrics:   m,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	d.register(cfg)

	// Publish startup event with the registered slot table
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Warn().Err(err).Msg("failed to publish startup event")
	} else {
		log.Info().Msg("published startup event")
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http status server listening")
	}

	log.Info().
		Dur("poll", cfg.Poll).
		Int("capacity", cfg.Capacity).
		Int("jobs", len(cfg.Jobs)).
		Str("broker", cfg.Broker).
		Dur("heartbeat", cfg.Heartbeat).
		Msg("started")

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return runLoop(d, ticker.C, sigCh)
}

// runLoop drives the scheduler on every tick until a signal arrives.
func runLoop(d *daemon, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			d.log.Info().Stringer("signal", s).Msg("shutting down")
			d.shutdown(signalName(s))
			return nil

		case <-tick:
			d.tick()
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
