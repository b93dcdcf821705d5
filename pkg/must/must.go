// Package must provides helpers for invoking cleanup operations whose errors
// can't be handled but shouldn't be silently discarded either. Each function
// performs the operation and logs a warning if it fails.
package must

import (
	"io"
	"os"

	"github.com/opendelta/payloadapplier/pkg/logging"
)

// Close closes c, logging a warning if it fails.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("unable to close: %s", err.Error())
	}
}

// OSRemove removes the file at name, logging a warning if it fails.
func OSRemove(name string, logger *logging.Logger) {
	if err := os.Remove(name); err != nil {
		logger.Warnf("unable to remove '%s': %s", name, err.Error())
	}
}

// Succeed logs a warning naming the task if err is non-nil.
func Succeed(err error, task string, logger *logging.Logger) {
	if err != nil {
		logger.Warnf("unable to succeed at %s: %s", task, err.Error())
	}
}
