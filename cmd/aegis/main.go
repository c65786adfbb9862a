package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"aegis-server/pkg/app"
	"aegis-server/pkg/config"
	"aegis-server/pkg/version"
)

var logger = logrus.New()

func main() {
	root := &cobra.Command{
		Use:   "aegis",
		Short: "Personal safety guardian daemon",
		Long: "aegis monitors ambient audio for threats and orchestrates the " +
			"emergency response: audit trail, peer alerts, evidence recording, " +
			"strobe signaling, contact notification and emergency dialing.",
	}

	root.AddCommand(serveCommand(), versionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the guardian daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(logger)
			if err != nil {
				return err
			}

			configureLogger(cfg.Logging)

			logger.WithFields(logrus.Fields{
				"version":       version.Version,
				"http_port":     cfg.HTTP.Port,
				"audio_backend": cfg.Audio.Backend,
				"auto_start":    cfg.Monitoring.AutoStart,
			}).Info("Starting aegis")

			a, err := app.New(logger, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.Run(ctx)
		},
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.UserAgent())
		},
	}
}

func configureLogger(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.OutputFile != "" {
		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			logger.WithError(err).Warn("Failed to open log file, using stdout")
			return
		}
		logger.SetOutput(file)
	}
}
