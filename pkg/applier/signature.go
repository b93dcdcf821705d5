package applier

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
)

// DefaultPublicKeyPath is used when the caller passes an empty path to
// VerifyPayload.
const DefaultPublicKeyPath = "/usr/share/update_engine/update-payload-key.pub.pem"

// signatureExtractionState tracks the once-only extraction of the signature
// message from the operation stream.
type signatureExtractionState struct {
	extracted bool
	message   []byte
}

// shouldExtractSignature reports whether the given operation is the one
// carrying the signature message.
func shouldExtractSignature(manifest *DeltaArchiveManifest, op *InstallOperation, state *signatureExtractionState, bufferOffset uint64, bufferLen int) bool {
	if op.Type != OpReplace {
		return false
	}
	if !manifest.HasSignaturesOffset || !manifest.HasSignaturesSize {
		return false
	}
	if !op.HasDataOff || op.DataOffset != manifest.SignaturesOffset {
		return false
	}
	if !op.HasDataLen || op.DataLength != manifest.SignaturesSize {
		return false
	}
	if state.extracted {
		return false
	}
	if bufferOffset != manifest.SignaturesOffset {
		return false
	}
	return uint64(bufferLen) >= manifest.SignaturesSize
}

// SignPKCS1v15 signs digest (a SHA-256 hash) with priv, producing the raw
// signature bytes a signature message would embed. It exists to build test
// fixtures for VerifyPayload, mirroring what the out-of-scope generator does.
func SignPKCS1v15(priv *rsa.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest)
	if err != nil {
		return nil, errors.Wrap(err, "unable to sign digest")
	}
	return sig, nil
}

// verifySignatureMessage verifies a PKCS#1v15 signature over expectedDigest
// against the PEM-encoded public key at keyPath. On success it returns the
// signed hash bytes the signature attests to, which here is expectedDigest
// itself.
func verifySignatureMessage(keyPath string, signature []byte, expectedDigest []byte) ([]byte, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read public key")
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("public key file does not contain PEM data")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "unable to parse public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an RSA key")
	}

	if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, expectedDigest, signature); err != nil {
		return nil, errors.Wrap(err, "signature verification failed")
	}

	return expectedDigest, nil
}

// publicKeyPathOrDefault returns path unless it is empty, in which case it
// returns DefaultPublicKeyPath.
func publicKeyPathOrDefault(path string) string {
	if path == "" {
		return DefaultPublicKeyPath
	}
	return path
}

// sha256Sum is a small convenience wrapper kept for readability at call
// sites that need a one-shot digest rather than the incremental tracker.
func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
