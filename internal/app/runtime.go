package app

import (
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

// StartupMode controls whether a binary boots its runtime. Harnesses that only
// need the binaries to link set STOCKCONTROL_TEST_MODE so they exit before
// dialing PostgreSQL or redis.
type StartupMode struct {
	TestMode bool `envconfig:"STOCKCONTROL_TEST_MODE"`
}

// DetectStartupMode reads the startup flags. A value that does not parse as a
// bool leaves the runtime enabled.
func DetectStartupMode() StartupMode {
	var mode StartupMode
	if err := envconfig.Process("", &mode); err != nil {
		return StartupMode{}
	}
	return mode
}

// SkipRuntime reports whether component should return without starting.
func (m StartupMode) SkipRuntime(logger *slog.Logger, component string) bool {
	if !m.TestMode {
		return false
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("test mode detected, skipping startup", slog.String("component", component))
	return true
}
