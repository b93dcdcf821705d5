package filesystem

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/opendelta/payloadapplier/pkg/logging"
)

func TestWriteFileAtomicNonExistentDirectory(t *testing.T) {
	if WriteFileAtomic("/does/not/exist/file", []byte{}, 0600, logging.RootLogger) == nil {
		t.Error("atomic file write did not fail for non-existent path")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	directory := t.TempDir()
	target := filepath.Join(directory, "file")
	contents := []byte{0, 1, 2, 3, 4, 5, 6}

	if err := WriteFileAtomic(target, contents, 0600, logging.RootLogger); err != nil {
		t.Fatal("atomic file write failed:", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal("unable to read back file:", err)
	} else if !bytes.Equal(data, contents) {
		t.Error("file contents did not match expected")
	}
}

func TestWriteFileAtomicOverwrites(t *testing.T) {
	directory := t.TempDir()
	target := filepath.Join(directory, "file")

	if err := os.WriteFile(target, []byte("old"), 0600); err != nil {
		t.Fatal("unable to seed file:", err)
	}

	if err := WriteFileAtomic(target, []byte("new"), 0600, logging.RootLogger); err != nil {
		t.Fatal("atomic file write failed:", err)
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal("unable to read back file:", err)
	} else if string(data) != "new" {
		t.Error("file contents did not reflect overwrite:", string(data))
	}
}
