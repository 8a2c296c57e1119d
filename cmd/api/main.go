package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Wikid82/sentinel/backend/internal/config"
	"github.com/Wikid82/sentinel/backend/internal/database"
	"github.com/Wikid82/sentinel/backend/internal/identity"
	"github.com/Wikid82/sentinel/backend/internal/logger"
	"github.com/Wikid82/sentinel/backend/internal/metrics"
	"github.com/Wikid82/sentinel/backend/internal/server"
	"github.com/Wikid82/sentinel/backend/internal/version"
)

func main() {
	// Handle CLI commands
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		if len(os.Args) != 3 {
			fmt.Fprintf(os.Stderr, "Usage: %s hash-key <api-key>\n", os.Args[0])
			os.Exit(2)
		}
		hash, err := identity.HashAPIKey(os.Args[2])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logging with rotation
	out := io.Writer(os.Stdout)
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err == nil {
			rotator := &lumberjack.Logger{
				Filename:   filepath.Join(cfg.LogDir, "sentinel.log"),
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			}
			defer rotator.Close()
			out = io.MultiWriter(os.Stdout, rotator)
		}
	}
	logger.Init(cfg.Debug, out)
	log := logger.Log()

	log.WithField("version", version.Full()).Infof("starting %s", version.Name)

	metrics.Register(prometheus.DefaultRegisterer)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, db, cfg)
	if err != nil {
		log.WithError(err).Fatal("build server")
	}

	log.WithField("port", cfg.HTTPPort).Info("listening")
	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("server stopped with errors")
		os.Exit(1)
	}
}
