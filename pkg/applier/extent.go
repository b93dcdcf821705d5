package applier

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// SparseHole is the sentinel start-block value denoting a run of virtual
// zero blocks rather than a real device extent.
const SparseHole uint64 = ^uint64(0)

// Extent identifies a contiguous run of blocks on a partition. A StartBlock
// equal to SparseHole denotes a sparse hole: a run of NumBlocks virtual zero
// blocks, readable as zeros, with writes discarded.
type Extent struct {
	StartBlock uint64
	NumBlocks  uint64
}

// IsSparseHole reports whether the extent is a sparse hole.
func (e Extent) IsSparseHole() bool {
	return e.StartBlock == SparseHole
}

// ByteLength returns the extent's capacity in bytes at the given block size.
func (e Extent) ByteLength(blockSize uint64) uint64 {
	return e.NumBlocks * blockSize
}

// EnsureValid verifies that an extent's invariants are respected.
func (e Extent) EnsureValid() error {
	if e.NumBlocks == 0 {
		return errors.New("extent has zero blocks")
	}
	return nil
}

// TotalBlocks sums the block counts of a list of extents.
func TotalBlocks(extents []Extent) uint64 {
	var total uint64
	for _, e := range extents {
		total += e.NumBlocks
	}
	return total
}

// TotalBytes sums the byte capacity of a list of extents at the given block
// size.
func TotalBytes(extents []Extent, blockSize uint64) uint64 {
	return TotalBlocks(extents) * blockSize
}

// ExtentsToPatchPositions converts a list of extents into the comma-separated
// "start:length" position string consumed by the external bspatch program.
// A sparse hole is emitted as "-1:length". The final emitted extent is
// truncated so that the sum of emitted lengths equals exactly fullLength; it
// is an error for the extents' total byte capacity to fall short of
// fullLength.
func ExtentsToPatchPositions(extents []Extent, blockSize uint64, fullLength uint64) (string, error) {
	var builder strings.Builder
	var runningTotal uint64

	for i, extent := range extents {
		if err := extent.EnsureValid(); err != nil {
			return "", errors.Wrapf(err, "invalid extent at index %d", i)
		}

		if runningTotal >= fullLength {
			break
		}

		remaining := fullLength - runningTotal
		length := extent.ByteLength(blockSize)
		if length > remaining {
			length = remaining
		}

		var start int64
		if extent.IsSparseHole() {
			start = -1
		} else {
			start = int64(extent.StartBlock * blockSize)
		}

		if builder.Len() > 0 {
			builder.WriteByte(',')
		}
		fmt.Fprintf(&builder, "%d:%d", start, length)

		runningTotal += length
	}

	if runningTotal < fullLength {
		return "", errors.Errorf(
			"extents provide %d bytes of capacity, need %d", runningTotal, fullLength,
		)
	}

	return builder.String(), nil
}
