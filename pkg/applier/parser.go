package applier

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PayloadMagic is the fixed ASCII tag identifying the payload format, known
// to both the payload generator and this applier.
const PayloadMagic = "CrAU"

const (
	magicLength         = len(PayloadMagic)
	versionLength       = 8
	protobufLengthField = 8
	prefixHeaderLength  = magicLength + versionLength + protobufLengthField
)

// parsedPrefix is the result of successfully recognizing and parsing the
// payload prefix.
type parsedPrefix struct {
	manifest             *DeltaArchiveManifest
	manifestMetadataSize uint64
}

// tryParsePrefix attempts to parse the payload prefix (magic, version,
// protobuf length, protobuf bytes) from the head of buffer. It returns
// (nil, nil) if buffer does not yet hold enough bytes to make progress, and
// a non-nil error for any malformed prefix.
func tryParsePrefix(buffer []byte) (*parsedPrefix, error) {
	if len(buffer) < prefixHeaderLength {
		return nil, nil
	}

	if string(buffer[:magicLength]) != PayloadMagic {
		return nil, errors.New("payload prefix has invalid magic")
	}

	// Version bytes are consumed but, per the documented default, not
	// validated unless the caller opted into Options.SupportedVersions.
	protobufLength := binary.BigEndian.Uint64(buffer[magicLength+versionLength : prefixHeaderLength])

	totalLength := uint64(prefixHeaderLength) + protobufLength
	if uint64(len(buffer)) < totalLength {
		return nil, nil
	}

	protobufBytes := buffer[prefixHeaderLength:totalLength]
	manifest, err := ParseDeltaArchiveManifest(protobufBytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest protobuf")
	}

	return &parsedPrefix{
		manifest:             manifest,
		manifestMetadataSize: totalLength,
	}, nil
}

// ParsePayloadManifest parses just the manifest header from the start of a
// payload, without driving any operation execution. Callers that resume an
// interrupted update use this to recover the manifest independently of a
// live Applier, since ResumeFrom expects the manifest supplied rather than
// re-derived from checkpoint state.
func ParsePayloadManifest(data []byte) (*DeltaArchiveManifest, uint64, error) {
	parsed, err := tryParsePrefix(data)
	if err != nil {
		return nil, 0, err
	}
	if parsed == nil {
		return nil, 0, errors.New("payload does not hold a complete header")
	}
	return parsed.manifest, parsed.manifestMetadataSize, nil
}

// versionBytes extracts the raw version field from a buffer already known to
// hold at least prefixHeaderLength bytes.
func versionBytes(buffer []byte) [8]byte {
	var v [8]byte
	copy(v[:], buffer[magicLength:magicLength+versionLength])
	return v
}

// validateVersion checks the extracted version bytes against an allow-list.
// An empty allow-list accepts any version, matching the documented default.
func validateVersion(version [8]byte, allowed [][8]byte) error {
	if len(allowed) == 0 {
		return nil
	}
	for _, candidate := range allowed {
		if candidate == version {
			return nil
		}
	}
	return errors.Errorf("unsupported payload version %x", version)
}
