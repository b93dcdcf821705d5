package applier

import (
	"testing"

	"github.com/opendelta/payloadapplier/pkg/logging"
)

func TestFileStoreStringRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir(), logging.RootLogger.Sublogger("test"))

	if _, ok, err := store.GetString("missing-key"); err != nil || ok {
		t.Fatalf("expected missing key to report not-found, got ok=%v err=%v", ok, err)
	}

	if err := store.SetString("greeting", "hello"); err != nil {
		t.Fatal(err)
	}
	value, ok, err := store.GetString("greeting")
	if err != nil || !ok || value != "hello" {
		t.Fatalf("got %q ok=%v err=%v, want hello", value, ok, err)
	}
}

func TestFileStoreInt64RoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir(), logging.RootLogger.Sublogger("test"))

	if err := store.SetInt64("count", -1); err != nil {
		t.Fatal(err)
	}
	value, ok, err := store.GetInt64("count")
	if err != nil || !ok || value != -1 {
		t.Fatalf("got %d ok=%v err=%v, want -1", value, ok, err)
	}
}

func TestFileStoreInt64InvalidContent(t *testing.T) {
	store := NewFileStore(t.TempDir(), logging.RootLogger.Sublogger("test"))
	if err := store.SetString("count", "not-a-number"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.GetInt64("count"); err == nil {
		t.Error("expected error parsing non-integer preference value")
	}
}

func TestPrefsAdapterCheckpointFields(t *testing.T) {
	store := NewFileStore(t.TempDir(), logging.RootLogger.Sublogger("test"))
	prefs := newPrefsAdapter(store)

	if _, ok, err := prefs.nextOperation(); err != nil || ok {
		t.Fatalf("expected fresh store to have no next operation, got ok=%v err=%v", ok, err)
	}

	if err := prefs.setNextOperation(5); err != nil {
		t.Fatal(err)
	}
	if err := prefs.invalidateNextOperation(); err != nil {
		t.Fatal(err)
	}
	value, ok, err := prefs.nextOperation()
	if err != nil || !ok || value != invalidOperation {
		t.Fatalf("got %d ok=%v err=%v, want sentinel %d", value, ok, err, invalidOperation)
	}
}
