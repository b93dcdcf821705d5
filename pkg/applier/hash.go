package applier

import (
	"crypto/sha256"
	"encoding"
	"encoding/base64"
	"hash"

	"github.com/pkg/errors"
)

// hashTracker maintains a running SHA-256 digest over every byte consumed
// from the payload stream, including the manifest metadata prefix. Its
// internal state can be snapshotted and restored, which is what makes
// checkpointing possible: the snapshot taken just before the signature blob
// is hashed is exactly the value the payload's signature attests to.
type hashTracker struct {
	digest hash.Hash
}

// newHashTracker creates a hash tracker with a fresh SHA-256 state.
func newHashTracker() *hashTracker {
	return &hashTracker{digest: sha256.New()}
}

// Write feeds bytes into the running digest. It never fails: hash.Hash's
// Write is documented to never return an error.
func (h *hashTracker) Write(data []byte) {
	h.digest.Write(data)
}

// Sum returns the raw digest of all bytes absorbed so far without mutating
// the tracker's state.
func (h *hashTracker) Sum() []byte {
	return h.digest.Sum(nil)
}

// Base64Sum returns the base64-encoded digest of all bytes absorbed so far.
func (h *hashTracker) Base64Sum() string {
	return base64.StdEncoding.EncodeToString(h.Sum())
}

// saveContext serializes the tracker's current SHA-256 state so it can be
// persisted and later restored, resuming the digest from exactly this point.
// It relies on the standard library's SHA-256 implementation satisfying
// encoding.BinaryMarshaler, which is the "saveable context" contract that
// the SHA-256 hasher collaborator is specified to provide.
func (h *hashTracker) saveContext() ([]byte, error) {
	marshaler, ok := h.digest.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errors.New("hash implementation does not support context saving")
	}
	return marshaler.MarshalBinary()
}

// restoreHashContext constructs a new SHA-256 state from a previously saved
// context, without needing an existing hashTracker.
func restoreHashContext(context []byte) (hash.Hash, error) {
	digest := sha256.New()
	unmarshaler, ok := digest.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, errors.New("hash implementation does not support context restoring")
	}
	if err := unmarshaler.UnmarshalBinary(context); err != nil {
		return nil, errors.Wrap(err, "unable to restore hash context")
	}
	return digest, nil
}

// loadContext replaces the tracker's digest with one restored from a
// previously saved context.
func (h *hashTracker) loadContext(context []byte) error {
	digest, err := restoreHashContext(context)
	if err != nil {
		return err
	}
	h.digest = digest
	return nil
}
