package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/homemade/cgmsync/sync"
)

var (
	settingsFiles   []string
	destinationsVar string
	recordRequests  bool
	logFile         string
	logMaxSizeMB    int
	logMaxBackups   int
	logMaxAgeDays   int
	metricsAddr     string
)

var rootCmd = &cobra.Command{
	Use:   "cgmsync",
	Short: "Sync glucose readings from the source telemetry API to per-tenant destinations",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single sync over all tenants and print the summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		orchestrator, err := newOrchestrator()
		if err != nil {
			return err
		}
		shutdown := initTracing(ctx, "cgmsync")
		defer shutdown(context.Background())

		result, err := orchestrator.Run(ctx)
		if err != nil {
			return err
		}
		report, err := result.FormatCSV()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), report)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a sync now and then on every interval, exposing Prometheus metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		orchestrator, err := newOrchestrator()
		if err != nil {
			return err
		}
		shutdown := initTracing(ctx, "cgmsync")
		defer shutdown(context.Background())

		if metricsAddr != "" {
			serveMetrics(metricsAddr)
		}

		interval := orchestrator.Settings.Sync.Interval
		if interval <= 0 {
			interval = time.Minute
		}
		log.Printf("Syncing every %s", interval)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if _, err := orchestrator.Run(ctx); err != nil {
				log.Printf("Run failed: %v", err)
			}
			select {
			case <-ctx.Done():
				log.Println("Shutting down")
				return nil
			case <-ticker.C:
			}
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&settingsFiles, "config", nil, "YAML settings layered over the defaults (repeatable)")
	rootCmd.PersistentFlags().StringVar(&destinationsVar, "destinations-env", getEnv("CGMSYNC_DESTINATIONS_ENV", "CGMSYNC_DESTINATIONS"), "Env var holding a JSON object of DEST_URL__/DEST_SECRET__ bindings")
	rootCmd.PersistentFlags().BoolVar(&recordRequests, "record-requests", false, "Record API traffic under testdata/.requests")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", getEnv("CGMSYNC_LOG_FILE", ""), "Write logs to this file with rotation instead of stderr")
	rootCmd.PersistentFlags().IntVar(&logMaxSizeMB, "log-max-size", 10, "Rotate the log file after this many megabytes")
	rootCmd.PersistentFlags().IntVar(&logMaxBackups, "log-max-backups", 5, "Number of rotated log files to keep")
	rootCmd.PersistentFlags().IntVar(&logMaxAgeDays, "log-max-age", 28, "Days to keep rotated log files")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", getEnv("CGMSYNC_METRICS_ADDR", ":8080"), "Address to serve /metrics on (empty disables)")

	rootCmd.AddCommand(runCmd, serveCmd)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func setupLogging() {
	if logFile == "" {
		return
	}
	var w io.Writer = &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
	}
	log.SetOutput(w)
	sync.SetLogOutput(w)
}

func newOrchestrator() (*sync.Orchestrator, error) {
	store := sync.ChainedConfigStore{
		sync.EnvConfigStore{},
		sync.JSONCompositeEnvVar{Parent: destinationsVar},
	}

	var layers []sync.SettingsFile
	for _, path := range settingsFiles {
		layer, err := sync.MustFindSettingsFile(path)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}

	settings, err := sync.LoadSettings(store, layers...)
	if err != nil {
		return nil, err
	}
	credentials, err := sync.LoadSourceCredentials(store, settings.Source)
	if err != nil {
		return nil, err
	}

	sc := &sync.SyncContext{
		Settings:       settings,
		Credentials:    credentials,
		RecordRequests: recordRequests,
	}
	return sync.NewOrchestrator(sc, store), nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("Prometheus metrics available at http://%s/metrics", addr)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("Failed to start metrics endpoint: %v", err)
		}
	}()
}
