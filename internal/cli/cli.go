// Package cli implements the dynapi commands on top of pkg/client.
package cli

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/iSoldLeo/DynamicAPI/internal/config"
	"github.com/iSoldLeo/DynamicAPI/internal/logx"
)

// Env is the process-wide state shared by all commands.
type Env struct {
	Settings *config.Settings
	Logger   *zap.Logger
	close    func()
}

// BootstrapOptions are the global flags.
type BootstrapOptions struct {
	SettingsPath string
	LogLevel     string
	Verbose      bool
}

// Bootstrap initializes ~/.dynapi, loads settings and builds the logger.
func Bootstrap(opts BootstrapOptions) (*Env, error) {
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}

	settings, err := config.LoadSettings(opts.SettingsPath)
	if err != nil {
		return nil, err
	}

	logCfg := logx.Config{
		Level:  settings.Logging.Level,
		Format: settings.Logging.Format,
		Output: settings.Logging.Output,
	}
	if opts.LogLevel != "" {
		logCfg.Level = opts.LogLevel
	}
	if opts.Verbose {
		logCfg.Level = "debug"
	}

	logger, closeFn, err := logx.New(logCfg)
	if err != nil {
		return nil, err
	}
	return &Env{Settings: settings, Logger: logger, close: closeFn}, nil
}

// Close flushes the logger.
func (e *Env) Close() {
	if e.close != nil {
		e.close()
	}
}
