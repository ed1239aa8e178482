package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/ovtransport"
	"github.com/opd-ai/ovtransport/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type runFlags struct {
	configPath  string
	logLevel    string
	metricsAddr string
}

func runCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the transport client",
		Long: `Run the transport client until interrupted or until a socket fails.

The configuration file is YAML (.yaml, .yml) or TOML (.toml).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "ovtransport.yaml", "Configuration file")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Override the metrics listen address")

	return cmd
}

func loadConfig(flags runFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.metricsAddr != "" {
		cfg.Metrics.Addr = flags.metricsAddr
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, flags runFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if err := cfg.Log.Apply(); err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := ovtransport.NewClient(cfg, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		srv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           newRouter(client.Session),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithFields(logrus.Fields{
					"function": "run",
					"addr":     cfg.Metrics.Addr,
					"error":    err.Error(),
				}).Error("Metrics server failed")
			}
		}()
	}

	if err := client.Start(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "run",
		"version":    version,
		"caller_id":  cfg.CallerID,
		"local_port": client.LocalPort(),
		"metrics":    cfg.Metrics.Addr,
	}).Info("Client running")

	select {
	case <-ctx.Done():
		logrus.Info("Shutting down")
	case <-client.Done():
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	if err := client.Close(); err != nil {
		logrus.WithError(err).Debug("Close reported errors")
	}
	if err := client.Err(); err != nil {
		return fmt.Errorf("session stopped: %w", err)
	}
	return nil
}
