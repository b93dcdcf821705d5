package applier

// CanResumeUpdate reports whether the preferences store holds a complete,
// consistent checkpoint that a fresh Applier could resume from. Any absence
// or mismatch is treated as "no", which tells the caller to start the
// update fresh.
func CanResumeUpdate(store Store, expectedResponseHash string) bool {
	prefs := newPrefsAdapter(store)

	nextOp, ok, err := prefs.nextOperation()
	if err != nil || !ok || nextOp <= 0 {
		return false
	}

	responseHash, ok, err := prefs.updateCheckResponseHash()
	if err != nil || !ok || responseHash != expectedResponseHash {
		return false
	}

	dataOffset, ok, err := prefs.nextDataOffset()
	if err != nil || !ok || dataOffset < 0 {
		return false
	}

	sha256Context, ok, err := prefs.sha256Context()
	if err != nil || !ok || sha256Context == "" {
		return false
	}

	metadataSize, ok, err := prefs.manifestMetadataSize()
	if err != nil || !ok || metadataSize <= 0 {
		return false
	}

	return true
}

// ResetUpdateProgress invalidates the persisted resume checkpoint, forcing
// the next attempt to start the update from scratch.
func ResetUpdateProgress(store Store) error {
	return newPrefsAdapter(store).invalidateNextOperation()
}

// RecordUpdateCheckResponseHash persists the response hash a fresh update
// attempt is keyed to, so a later CanResumeUpdate call can confirm a
// checkpoint belongs to this same update rather than a stale prior one.
func RecordUpdateCheckResponseHash(store Store, responseHash string) error {
	return newPrefsAdapter(store).setUpdateCheckResponseHash(responseHash)
}
