package cli

import (
	"io"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"github.com/qbitflow/bootstrap/pkg/bootstrap/config"
	"github.com/qbitflow/bootstrap/pkg/metrics"
)

const newRelicShutdownTimeout = 10 * time.Second

// configureLogger sets up the standard logger and, when a license key is
// configured, the New Relic application logs and metrics are sent to. The
// returned shutdown function flushes the application and is always safe to
// call.
func configureLogger(cfg *config.Config, w io.Writer) (*newrelic.Application, func()) {
	var formatter logrus.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	if cfg.LogFormat == "json" {
		formatter = &logrus.JSONFormatter{}
	}

	var app *newrelic.Application
	if len(cfg.NewRelic.LicenseKey) > 0 {
		var err error
		app, err = metrics.NewApplication(cfg.NewRelic.AppName, cfg.NewRelic.LicenseKey)
		if err != nil {
			logrus.StandardLogger().WithError(err).Warn("failed to start new relic, continuing without it")
			app = nil
		}
	}

	if app != nil {
		logrus.SetFormatter(metrics.NewLogFormatter(app, formatter))
	} else {
		logrus.SetFormatter(formatter)
	}

	level, err := logrus.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		logrus.StandardLogger().WithField("log_level", cfg.LogLevel).Warn("unknown log level, ignoring")
	} else {
		logrus.SetLevel(level)
	}

	logrus.SetOutput(w)

	return app, func() {
		if app != nil {
			app.Shutdown(newRelicShutdownTimeout)
		}
	}
}
