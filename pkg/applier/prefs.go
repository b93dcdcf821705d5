package applier

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/opendelta/payloadapplier/pkg/encoding"
	"github.com/opendelta/payloadapplier/pkg/logging"
)

// Preference keys, matching the typed contract the external preferences
// store exposes.
const (
	prefManifestMetadataSize    = "manifest-metadata-size"
	prefNextOperation           = "update-state-next-operation"
	prefNextDataOffset          = "update-state-next-data-offset"
	prefSHA256Context           = "update-state-sha256-context"
	prefSignedSHA256Context     = "update-state-signed-sha256-context"
	prefUpdateCheckResponseHash = "update-check-response-hash"
)

// invalidOperation is the sentinel stored under prefNextOperation to mean
// "no valid resume point" -- either never started, or a non-idempotent step
// was interrupted.
const invalidOperation int64 = -1

// Store is the typed get/set contract the applier needs from the external
// persistent key-value preferences store. Values are always strings; the
// applier layers typed accessors on top.
type Store interface {
	GetString(key string) (string, bool, error)
	SetString(key string, value string) error
	GetInt64(key string) (int64, bool, error)
	SetInt64(key string, value int64) error
}

// FileStore is a small file-backed Store implementation, one file per key
// under a root directory, written atomically. It is a concrete stand-in for
// the external preferences store referenced only by contract, sufficient to
// drive the resume tests and end-to-end scenarios.
type FileStore struct {
	root   string
	logger *logging.Logger
}

// NewFileStore creates a FileStore rooted at dir, which must already exist.
func NewFileStore(dir string, logger *logging.Logger) *FileStore {
	return &FileStore{root: dir, logger: logger}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, key)
}

// GetString implements Store.
func (s *FileStore) GetString(key string) (string, bool, error) {
	var value string
	err := encoding.LoadAndUnmarshal(s.path(key), func(data []byte) error {
		value = string(data)
		return nil
	})
	if os.IsNotExist(errors.Cause(err)) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "unable to read preference %q", key)
	}
	return value, true, nil
}

// SetString implements Store.
func (s *FileStore) SetString(key string, value string) error {
	err := encoding.MarshalAndSave(s.path(key), s.logger, func() ([]byte, error) {
		return []byte(value), nil
	})
	if err != nil {
		return errors.Wrapf(err, "unable to write preference %q", key)
	}
	return nil
}

// GetInt64 implements Store.
func (s *FileStore) GetInt64(key string) (int64, bool, error) {
	raw, ok, err := s.GetString(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(err, "preference %q is not a valid integer", key)
	}
	return value, true, nil
}

// SetInt64 implements Store.
func (s *FileStore) SetInt64(key string, value int64) error {
	return s.SetString(key, strconv.FormatInt(value, 10))
}

// prefsAdapter layers the applier's typed checkpoint fields over a Store.
type prefsAdapter struct {
	store Store
}

func newPrefsAdapter(store Store) *prefsAdapter {
	return &prefsAdapter{store: store}
}

func (p *prefsAdapter) manifestMetadataSize() (int64, bool, error) {
	return p.store.GetInt64(prefManifestMetadataSize)
}

func (p *prefsAdapter) setManifestMetadataSize(v int64) error {
	return p.store.SetInt64(prefManifestMetadataSize, v)
}

func (p *prefsAdapter) nextOperation() (int64, bool, error) {
	return p.store.GetInt64(prefNextOperation)
}

func (p *prefsAdapter) setNextOperation(v int64) error {
	return p.store.SetInt64(prefNextOperation, v)
}

func (p *prefsAdapter) invalidateNextOperation() error {
	return p.setNextOperation(invalidOperation)
}

func (p *prefsAdapter) nextDataOffset() (int64, bool, error) {
	return p.store.GetInt64(prefNextDataOffset)
}

func (p *prefsAdapter) setNextDataOffset(v int64) error {
	return p.store.SetInt64(prefNextDataOffset, v)
}

func (p *prefsAdapter) sha256Context() (string, bool, error) {
	return p.store.GetString(prefSHA256Context)
}

func (p *prefsAdapter) setSHA256Context(v string) error {
	return p.store.SetString(prefSHA256Context, v)
}

func (p *prefsAdapter) signedSHA256Context() (string, bool, error) {
	return p.store.GetString(prefSignedSHA256Context)
}

func (p *prefsAdapter) setSignedSHA256Context(v string) error {
	return p.store.SetString(prefSignedSHA256Context, v)
}

func (p *prefsAdapter) updateCheckResponseHash() (string, bool, error) {
	return p.store.GetString(prefUpdateCheckResponseHash)
}

func (p *prefsAdapter) setUpdateCheckResponseHash(v string) error {
	return p.store.SetString(prefUpdateCheckResponseHash, v)
}
