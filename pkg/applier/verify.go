package applier

import "os"

// VerifyPayload checks the fully-consumed payload against the update check's
// expectations. It must be called exactly once, after the last successful
// Write.
func (a *Applier) VerifyPayload(publicKeyPath string, expectedHash string, expectedSize uint64) bool {
	if expectedHash != a.hash.Base64Sum() {
		a.logger.Warningf("payload hash mismatch: got %s, want %s", a.hash.Base64Sum(), expectedHash)
		return false
	}

	consumedSize := a.manifestMetadataSize + a.bufferOffset
	if expectedSize != consumedSize {
		a.logger.Warningf("payload size mismatch: consumed %d, want %d", consumedSize, expectedSize)
		return false
	}

	keyPath := publicKeyPathOrDefault(publicKeyPath)
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		a.logger.Warningf("no public key at %s, skipping signature verification", keyPath)
		return true
	}

	if len(a.sigState.message) == 0 {
		a.logger.Warning("no signature message was extracted from the payload")
		return false
	}
	if len(a.signedHashContext) == 0 {
		// A resumed applier never reloads this from the preferences store
		// (ResumeFrom deliberately skips it), so an update that resumes
		// past the signature point fails verification here rather than
		// synthesizing a context.
		a.logger.Warning("no signed hash context was captured; cannot verify signature")
		return false
	}

	signedHash, err := restoreHashContext(a.signedHashContext)
	if err != nil {
		a.logger.Warningf("unable to reconstruct signed hash context: %v", err)
		return false
	}
	expectedDigest := signedHash.Sum(nil)

	if _, err := verifySignatureMessage(keyPath, a.sigState.message, expectedDigest); err != nil {
		a.logger.Warningf("signature verification failed: %v", err)
		return false
	}

	return true
}
