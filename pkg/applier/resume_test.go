package applier

import (
	"testing"

	"github.com/opendelta/payloadapplier/pkg/logging"
)

func newMemoryFileStore(t *testing.T) *FileStore {
	t.Helper()
	return NewFileStore(t.TempDir(), logging.RootLogger.Sublogger("test"))
}

func TestCanResumeUpdateFreshStoreIsFalse(t *testing.T) {
	store := newMemoryFileStore(t)
	if CanResumeUpdate(store, "expected-hash") {
		t.Error("expected fresh store to not support resume")
	}
}

func TestCanResumeUpdateCompleteCheckpoint(t *testing.T) {
	store := newMemoryFileStore(t)
	prefs := newPrefsAdapter(store)

	mustSet(t, prefs.setNextOperation(3))
	mustSet(t, store.SetString(prefUpdateCheckResponseHash, "expected-hash"))
	mustSet(t, prefs.setNextDataOffset(1024))
	mustSet(t, prefs.setSHA256Context("opaque-context"))
	mustSet(t, prefs.setManifestMetadataSize(64))

	if !CanResumeUpdate(store, "expected-hash") {
		t.Error("expected complete checkpoint to support resume")
	}
	if CanResumeUpdate(store, "different-hash") {
		t.Error("expected mismatched response hash to reject resume")
	}
}

func TestCanResumeUpdateInvalidNextOperation(t *testing.T) {
	store := newMemoryFileStore(t)
	prefs := newPrefsAdapter(store)

	mustSet(t, prefs.setNextOperation(3))
	mustSet(t, store.SetString(prefUpdateCheckResponseHash, "expected-hash"))
	mustSet(t, prefs.setNextDataOffset(1024))
	mustSet(t, prefs.setSHA256Context("opaque-context"))
	mustSet(t, prefs.setManifestMetadataSize(64))

	if err := ResetUpdateProgress(store); err != nil {
		t.Fatal(err)
	}
	if CanResumeUpdate(store, "expected-hash") {
		t.Error("expected reset checkpoint to reject resume")
	}
}

func TestRecordUpdateCheckResponseHashEnablesResume(t *testing.T) {
	store := newMemoryFileStore(t)
	prefs := newPrefsAdapter(store)

	mustSet(t, prefs.setNextOperation(3))
	mustSet(t, RecordUpdateCheckResponseHash(store, "fresh-response-hash"))
	mustSet(t, prefs.setNextDataOffset(1024))
	mustSet(t, prefs.setSHA256Context("opaque-context"))
	mustSet(t, prefs.setManifestMetadataSize(64))

	if !CanResumeUpdate(store, "fresh-response-hash") {
		t.Error("expected recorded response hash to support resume")
	}
}

func mustSet(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
