package cli

import (
	"fmt"

	"github.com/selim/orkestra/internal/config"
	"github.com/selim/orkestra/internal/daemon"
	"github.com/selim/orkestra/internal/logger"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, console bool) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: true,
	})
}

// newLocalDaemon builds a daemon with all network services disabled, for
// one-shot commands that only need the store, registry, and engines.
func newLocalDaemon() (*daemon.Daemon, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	cfg.Webhook.Enabled = false
	cfg.Gateway.Enabled = false
	cfg.Telegram.Enabled = false
	cfg.Schedule.Enabled = false
	cfg.Definitions.Watch = false
	cfg.Metrics.Enabled = false
	cfg.Tracing.Enabled = false

	log, err := newLogger(cfg, false)
	if err != nil {
		return nil, nil, err
	}

	d, err := daemon.New(cfg, log)
	if err != nil {
		log.Close()
		return nil, nil, fmt.Errorf("failed to initialize: %w", err)
	}
	if err := d.Start(); err != nil {
		log.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = d.Stop()
		log.Close()
	}
	return d, cleanup, nil
}
