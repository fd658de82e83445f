package testutil

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

// QuietLogs discards the standard logger's output for the duration of the
// test, unless tests run verbosely.
func QuietLogs(t *testing.T) {
	if testing.Verbose() {
		logrus.SetLevel(logrus.TraceLevel)
		return
	}

	original := logrus.StandardLogger().Out
	logrus.SetOutput(io.Discard)
	t.Cleanup(func() {
		logrus.SetOutput(original)
	})
}
