package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/opendelta/payloadapplier/pkg/applier"
	"github.com/opendelta/payloadapplier/pkg/logging"
)

// commonConfiguration holds the flags shared by every subcommand that opens
// a preferences store.
type commonConfiguration struct {
	prefsDir string
	logLevel string
}

func (c *commonConfiguration) register(flags *pflag.FlagSet) {
	flags.StringVar(&c.prefsDir, "prefs-dir", "", "Directory holding update checkpoint preferences (required)")
	flags.StringVar(&c.logLevel, "log-level", "info", "Log level: disabled|error|warn|info|debug|trace")
}

// logger constructs the root logger for the command, sub-named per verb.
func (c *commonConfiguration) logger(name string) (*logging.Logger, error) {
	level, ok := logging.NameToLevel(c.logLevel)
	if !ok {
		return nil, errors.Errorf("invalid log level: %s", c.logLevel)
	}
	return logging.NewLogger(level, nil).Sublogger(name), nil
}

// store opens the file-backed preferences store rooted at prefsDir.
func (c *commonConfiguration) store(logger *logging.Logger) (*applier.FileStore, error) {
	if c.prefsDir == "" {
		return nil, errors.New("--prefs-dir is required")
	}
	return applier.NewFileStore(c.prefsDir, logger.Sublogger("prefs")), nil
}

// parseVersionBytes copies the leading bytes of s into an 8-byte version
// field, matching the wire layout the applier expects. Longer strings are
// truncated; shorter ones are zero-padded on the right.
func parseVersionBytes(s string) [8]byte {
	var v [8]byte
	copy(v[:], s)
	return v
}
