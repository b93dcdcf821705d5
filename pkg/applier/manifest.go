package applier

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// OperationType identifies the transform an InstallOperation applies to its
// destination extents.
type OperationType int

const (
	OpReplace OperationType = iota
	OpReplaceBz
	OpMove
	OpBsdiff
)

func (t OperationType) String() string {
	switch t {
	case OpReplace:
		return "REPLACE"
	case OpReplaceBz:
		return "REPLACE_BZ"
	case OpMove:
		return "MOVE"
	case OpBsdiff:
		return "BSDIFF"
	default:
		return "UNKNOWN"
	}
}

// InstallOperation is one entry in a manifest's operation list: a tagged
// record describing how to transform a run of destination extents, optionally
// reading from source extents or a data blob.
type InstallOperation struct {
	Type       OperationType
	SrcExtents []Extent
	DstExtents []Extent
	SrcLength  uint64
	HasSrcLen  bool
	DstLength  uint64
	HasDstLen  bool
	DataOffset uint64
	HasDataOff bool
	DataLength uint64
	HasDataLen bool
}

// IsIdempotent reports whether repeated execution of the operation against
// the same device state yields the same result: true iff it has no source
// extents, meaning it never reads device contents it might have already
// mutated.
func (op *InstallOperation) IsIdempotent() bool {
	return len(op.SrcExtents) == 0
}

// DeltaArchiveManifest is the top-level protobuf message parsed from the
// payload prefix, describing both partitions' operation lists.
type DeltaArchiveManifest struct {
	BlockSize               uint64
	InstallOperations       []InstallOperation
	KernelInstallOperations []InstallOperation
	SignaturesOffset        uint64
	HasSignaturesOffset     bool
	SignaturesSize          uint64
	HasSignaturesSize       bool
}

// Field numbers for DeltaArchiveManifest, matching the wire layout the
// payload generator and applier agree on.
const (
	manifestFieldInstallOperations       = 1
	manifestFieldKernelInstallOperations = 2
	manifestFieldBlockSize               = 3
	manifestFieldSignaturesOffset        = 4
	manifestFieldSignaturesSize          = 5
)

// Field numbers for InstallOperation.
const (
	opFieldType       = 1
	opFieldSrcExtents = 2
	opFieldSrcLength  = 3
	opFieldDstExtents = 4
	opFieldDstLength  = 5
	opFieldDataOffset = 6
	opFieldDataLength = 7
)

// Field numbers for Extent.
const (
	extentFieldStartBlock = 1
	extentFieldNumBlocks  = 2
)

// Wire values for InstallOperation.Type, matching the generator's enum.
const (
	wireOpReplace   = 0
	wireOpReplaceBz = 1
	wireOpMove      = 2
	wireOpBsdiff    = 3
)

// ParseDeltaArchiveManifest decodes a DeltaArchiveManifest from its protobuf
// wire encoding. It is hand-rolled against protowire's low-level primitives
// rather than generated code, since no .proto/codegen toolchain is available;
// it walks fields exactly as generated unmarshal code would.
func ParseDeltaArchiveManifest(data []byte) (*DeltaArchiveManifest, error) {
	manifest := &DeltaArchiveManifest{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "malformed manifest tag")
		}
		data = data[n:]

		switch num {
		case manifestFieldBlockSize:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed block_size")
			}
			manifest.BlockSize = v
			data = data[n:]
		case manifestFieldSignaturesOffset:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed signatures_offset")
			}
			manifest.SignaturesOffset = v
			manifest.HasSignaturesOffset = true
			data = data[n:]
		case manifestFieldSignaturesSize:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed signatures_size")
			}
			manifest.SignaturesSize = v
			manifest.HasSignaturesSize = true
			data = data[n:]
		case manifestFieldInstallOperations, manifestFieldKernelInstallOperations:
			if typ != protowire.BytesType {
				return nil, errors.New("install operation field has wrong wire type")
			}
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed install operation")
			}
			op, err := parseInstallOperation(msg)
			if err != nil {
				return nil, errors.Wrap(err, "failed to parse install operation")
			}
			if num == manifestFieldInstallOperations {
				manifest.InstallOperations = append(manifest.InstallOperations, *op)
			} else {
				manifest.KernelInstallOperations = append(manifest.KernelInstallOperations, *op)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed unknown manifest field")
			}
			data = data[n:]
		}
	}

	if manifest.BlockSize == 0 {
		return nil, errors.New("manifest missing block_size")
	}

	return manifest, nil
}

func parseInstallOperation(data []byte) (*InstallOperation, error) {
	op := &InstallOperation{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "malformed operation tag")
		}
		data = data[n:]

		switch num {
		case opFieldType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed operation type")
			}
			t, err := operationTypeFromWire(v)
			if err != nil {
				return nil, err
			}
			op.Type = t
			data = data[n:]
		case opFieldSrcLength:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed src_length")
			}
			op.SrcLength = v
			op.HasSrcLen = true
			data = data[n:]
		case opFieldDstLength:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed dst_length")
			}
			op.DstLength = v
			op.HasDstLen = true
			data = data[n:]
		case opFieldDataOffset:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed data_offset")
			}
			op.DataOffset = v
			op.HasDataOff = true
			data = data[n:]
		case opFieldDataLength:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed data_length")
			}
			op.DataLength = v
			op.HasDataLen = true
			data = data[n:]
		case opFieldSrcExtents, opFieldDstExtents:
			if typ != protowire.BytesType {
				return nil, errors.New("extent field has wrong wire type")
			}
			msg, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed extent")
			}
			extent, err := parseExtent(msg)
			if err != nil {
				return nil, errors.Wrap(err, "failed to parse extent")
			}
			if num == opFieldSrcExtents {
				op.SrcExtents = append(op.SrcExtents, *extent)
			} else {
				op.DstExtents = append(op.DstExtents, *extent)
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed unknown operation field")
			}
			data = data[n:]
		}
	}

	if len(op.DstExtents) == 0 {
		return nil, errors.New("install operation has no destination extents")
	}

	return op, nil
}

func parseExtent(data []byte) (*Extent, error) {
	extent := &Extent{}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "malformed extent tag")
		}
		data = data[n:]

		switch num {
		case extentFieldStartBlock:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed start_block")
			}
			extent.StartBlock = v
			data = data[n:]
		case extentFieldNumBlocks:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed num_blocks")
			}
			extent.NumBlocks = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "malformed unknown extent field")
			}
			data = data[n:]
		}
	}

	return extent, nil
}

func operationTypeFromWire(v uint64) (OperationType, error) {
	switch v {
	case wireOpReplace:
		return OpReplace, nil
	case wireOpReplaceBz:
		return OpReplaceBz, nil
	case wireOpMove:
		return OpMove, nil
	case wireOpBsdiff:
		return OpBsdiff, nil
	default:
		return 0, errors.Errorf("unknown install operation type %d", v)
	}
}

// MarshalDeltaArchiveManifest encodes a manifest back into its protobuf wire
// form. It exists primarily to build fixtures for tests, mirroring the shape
// the payload generator (out of scope) would produce.
func MarshalDeltaArchiveManifest(manifest *DeltaArchiveManifest) []byte {
	var buf []byte

	buf = protowire.AppendTag(buf, manifestFieldBlockSize, protowire.VarintType)
	buf = protowire.AppendVarint(buf, manifest.BlockSize)

	for _, op := range manifest.InstallOperations {
		buf = protowire.AppendTag(buf, manifestFieldInstallOperations, protowire.BytesType)
		buf = protowire.AppendBytes(buf, marshalInstallOperation(op))
	}
	for _, op := range manifest.KernelInstallOperations {
		buf = protowire.AppendTag(buf, manifestFieldKernelInstallOperations, protowire.BytesType)
		buf = protowire.AppendBytes(buf, marshalInstallOperation(op))
	}

	if manifest.HasSignaturesOffset {
		buf = protowire.AppendTag(buf, manifestFieldSignaturesOffset, protowire.VarintType)
		buf = protowire.AppendVarint(buf, manifest.SignaturesOffset)
	}
	if manifest.HasSignaturesSize {
		buf = protowire.AppendTag(buf, manifestFieldSignaturesSize, protowire.VarintType)
		buf = protowire.AppendVarint(buf, manifest.SignaturesSize)
	}

	return buf
}

func marshalInstallOperation(op InstallOperation) []byte {
	var buf []byte

	buf = protowire.AppendTag(buf, opFieldType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(wireOpFromOperationType(op.Type)))

	for _, e := range op.SrcExtents {
		buf = protowire.AppendTag(buf, opFieldSrcExtents, protowire.BytesType)
		buf = protowire.AppendBytes(buf, marshalExtent(e))
	}
	for _, e := range op.DstExtents {
		buf = protowire.AppendTag(buf, opFieldDstExtents, protowire.BytesType)
		buf = protowire.AppendBytes(buf, marshalExtent(e))
	}
	if op.HasSrcLen {
		buf = protowire.AppendTag(buf, opFieldSrcLength, protowire.VarintType)
		buf = protowire.AppendVarint(buf, op.SrcLength)
	}
	if op.HasDstLen {
		buf = protowire.AppendTag(buf, opFieldDstLength, protowire.VarintType)
		buf = protowire.AppendVarint(buf, op.DstLength)
	}
	if op.HasDataOff {
		buf = protowire.AppendTag(buf, opFieldDataOffset, protowire.VarintType)
		buf = protowire.AppendVarint(buf, op.DataOffset)
	}
	if op.HasDataLen {
		buf = protowire.AppendTag(buf, opFieldDataLength, protowire.VarintType)
		buf = protowire.AppendVarint(buf, op.DataLength)
	}

	return buf
}

func marshalExtent(e Extent) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, extentFieldStartBlock, protowire.VarintType)
	buf = protowire.AppendVarint(buf, e.StartBlock)
	buf = protowire.AppendTag(buf, extentFieldNumBlocks, protowire.VarintType)
	buf = protowire.AppendVarint(buf, e.NumBlocks)
	return buf
}

func wireOpFromOperationType(t OperationType) int {
	switch t {
	case OpReplace:
		return wireOpReplace
	case OpReplaceBz:
		return wireOpReplaceBz
	case OpMove:
		return wireOpMove
	case OpBsdiff:
		return wireOpBsdiff
	default:
		return wireOpReplace
	}
}
