package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mgebhard/boltwood-dash/internal/boltwood"
	"github.com/mgebhard/boltwood-dash/internal/history"
	"github.com/mgebhard/boltwood-dash/internal/influx"
	"github.com/mgebhard/boltwood-dash/internal/logging"
	"github.com/mgebhard/boltwood-dash/internal/server"
	"github.com/mgebhard/boltwood-dash/web"
)

func main() {
	configPath := flag.String("config", "/etc/boltwood-dash/config.yaml", "Path to config file")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8888)")
	portPath := flag.String("port", "", "Override serial port (e.g. /dev/ttyUSB0)")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	flag.Parse()

	bootLog := logging.New(os.Stdout, "info")

	cfg := server.LoadConfig(*configPath, bootLog)
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *portPath != "" {
		cfg.Sensor.PortPath = *portPath
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	log := logging.New(os.Stdout, cfg.Logging.Level)
	log.Info("boltwood-dash starting", "port", cfg.Sensor.PortPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	hist := history.New(cfg.Average.LogFile, log)
	if err := hist.Load(); err != nil {
		log.Error("history load failed", "error", err)
	}

	sink := influx.New(cfg.Influx, log)
	sink.Start(ctx)

	dev := boltwood.NewDevice(cfg.Sensor, log)
	srv := server.New(cfg, dev, hist, web.FS, log)

	// Reports flow from the polling goroutine to the dashboard and the
	// export sink; both consumers queue or return quickly.
	dev.StartPolling(ctx, func(rep *boltwood.Report) {
		srv.HandleReport(rep)
		sink.Enqueue(rep)
	})

	if err := srv.Run(ctx); err != nil {
		log.Error("server exited", "error", err)
	}

	cancel()
	dev.Close()
	sink.Stop()
}
