package applier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleManifest() *DeltaArchiveManifest {
	return &DeltaArchiveManifest{
		BlockSize: 4096,
		InstallOperations: []InstallOperation{
			{
				Type:       OpReplace,
				DstExtents: []Extent{{StartBlock: 10, NumBlocks: 2}},
				DataOffset: 0, HasDataOff: true,
				DataLength: 8000, HasDataLen: true,
			},
			{
				Type:       OpMove,
				SrcExtents: []Extent{{StartBlock: 0, NumBlocks: 1}, {StartBlock: 2, NumBlocks: 1}},
				DstExtents: []Extent{{StartBlock: 5, NumBlocks: 2}},
			},
		},
		KernelInstallOperations: []InstallOperation{
			{
				Type:       OpBsdiff,
				SrcExtents: []Extent{{StartBlock: 1, NumBlocks: 1}},
				DstExtents: []Extent{{StartBlock: 20, NumBlocks: 3}},
				SrcLength:  4096, HasSrcLen: true,
				DstLength: 4096*3 - 100, HasDstLen: true,
				DataOffset: 8000, HasDataOff: true,
				DataLength: 500, HasDataLen: true,
			},
		},
		SignaturesOffset: 9000, HasSignaturesOffset: true,
		SignaturesSize: 256, HasSignaturesSize: true,
	}
}

func TestManifestRoundTrip(t *testing.T) {
	original := sampleManifest()
	encoded := MarshalDeltaArchiveManifest(original)

	decoded, err := ParseDeltaArchiveManifest(encoded)
	require.NoError(t, err)

	assert.Equal(t, original.BlockSize, decoded.BlockSize)
	require.Len(t, decoded.InstallOperations, len(original.InstallOperations))
	require.Len(t, decoded.KernelInstallOperations, len(original.KernelInstallOperations))

	replace := decoded.InstallOperations[0]
	assert.Equal(t, OpReplace, replace.Type)
	require.Len(t, replace.DstExtents, 1)
	assert.Equal(t, Extent{StartBlock: 10, NumBlocks: 2}, replace.DstExtents[0])
	assert.True(t, replace.HasDataLen)
	assert.EqualValues(t, 8000, replace.DataLength)

	move := decoded.InstallOperations[1]
	assert.Equal(t, OpMove, move.Type)
	assert.Len(t, move.SrcExtents, 2)
	assert.False(t, move.IsIdempotent(), "MOVE with source extents must not be idempotent")
	assert.True(t, replace.IsIdempotent(), "REPLACE with no source extents must be idempotent")

	bsdiff := decoded.KernelInstallOperations[0]
	assert.Equal(t, OpBsdiff, bsdiff.Type)
	assert.True(t, bsdiff.HasDstLen)
	assert.EqualValues(t, 4096*3-100, bsdiff.DstLength)

	assert.True(t, decoded.HasSignaturesOffset)
	assert.EqualValues(t, 9000, decoded.SignaturesOffset)
	assert.True(t, decoded.HasSignaturesSize)
	assert.EqualValues(t, 256, decoded.SignaturesSize)
}

func TestParseDeltaArchiveManifestMissingBlockSize(t *testing.T) {
	manifest := &DeltaArchiveManifest{
		InstallOperations: []InstallOperation{
			{Type: OpReplace, DstExtents: []Extent{{StartBlock: 0, NumBlocks: 1}}},
		},
	}
	encoded := MarshalDeltaArchiveManifest(manifest)
	if _, err := ParseDeltaArchiveManifest(encoded); err == nil {
		t.Error("expected error for manifest missing block_size")
	}
}

func TestParseDeltaArchiveManifestTruncated(t *testing.T) {
	encoded := MarshalDeltaArchiveManifest(sampleManifest())
	// Cut inside the final field's varint so the field is incomplete.
	if _, err := ParseDeltaArchiveManifest(encoded[:len(encoded)-1]); err == nil {
		t.Error("expected error for truncated manifest bytes")
	}
}

func TestParseInstallOperationRejectsNoDestinationExtents(t *testing.T) {
	op := InstallOperation{Type: OpReplace}
	manifest := &DeltaArchiveManifest{BlockSize: 4096, InstallOperations: []InstallOperation{op}}
	encoded := MarshalDeltaArchiveManifest(manifest)
	if _, err := ParseDeltaArchiveManifest(encoded); err == nil {
		t.Error("expected error for install operation with no destination extents")
	}
}

func TestOperationTypeString(t *testing.T) {
	cases := map[OperationType]string{
		OpReplace:         "REPLACE",
		OpReplaceBz:       "REPLACE_BZ",
		OpMove:            "MOVE",
		OpBsdiff:          "BSDIFF",
		OperationType(99): "UNKNOWN",
	}
	for op, want := range cases {
		if got := op.String(); got != want {
			t.Errorf("OperationType(%d).String() = %q, want %q", op, got, want)
		}
	}
}
