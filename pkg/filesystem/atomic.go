// Package filesystem provides the small set of filesystem primitives that
// the applier needs beyond what it does directly against block devices via
// positioned reads and writes.
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opendelta/payloadapplier/pkg/logging"
	"github.com/opendelta/payloadapplier/pkg/must"
)

// atomicWriteTemporaryNamePrefix is the file name prefix used for
// intermediate temporary files used in atomic writes.
const atomicWriteTemporaryNamePrefix = ".payload-apply-atomic-write"

// WriteFileAtomic writes data to path in an atomic fashion by writing to an
// intermediate temporary file in the same directory and swapping it into
// place with a rename.
func WriteFileAtomic(path string, data []byte, permissions os.FileMode, logger *logging.Logger) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), atomicWriteTemporaryNamePrefix)
	if err != nil {
		return fmt.Errorf("unable to create temporary file: %w", err)
	}

	if _, err = temporary.Write(data); err != nil {
		must.Close(temporary, logger)
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to write data to temporary file: %w", err)
	}

	if err = temporary.Close(); err != nil {
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to close temporary file: %w", err)
	}

	if err = os.Chmod(temporary.Name(), permissions); err != nil {
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to change file permissions: %w", err)
	}

	if err = os.Rename(temporary.Name(), path); err != nil {
		must.OSRemove(temporary.Name(), logger)
		return fmt.Errorf("unable to rename file: %w", err)
	}

	return nil
}
