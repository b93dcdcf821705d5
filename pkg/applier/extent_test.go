package applier

import "testing"

func TestExtentIsSparseHole(t *testing.T) {
	if !(Extent{StartBlock: SparseHole, NumBlocks: 4}).IsSparseHole() {
		t.Error("expected sparse hole extent to report as such")
	}
	if (Extent{StartBlock: 0, NumBlocks: 4}).IsSparseHole() {
		t.Error("expected non-sparse extent to not report as sparse hole")
	}
}

func TestExtentEnsureValid(t *testing.T) {
	if err := (Extent{StartBlock: 0, NumBlocks: 0}).EnsureValid(); err == nil {
		t.Error("expected zero-block extent to be invalid")
	}
	if err := (Extent{StartBlock: 0, NumBlocks: 1}).EnsureValid(); err != nil {
		t.Error("expected valid extent to pass validation:", err)
	}
}

func TestExtentsToPatchPositionsSingle(t *testing.T) {
	extents := []Extent{{StartBlock: 10, NumBlocks: 2}}
	got, err := ExtentsToPatchPositions(extents, 4096, 8000)
	if err != nil {
		t.Fatal(err)
	}
	want := "40960:8000"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtentsToPatchPositionsSparseHole(t *testing.T) {
	extents := []Extent{{StartBlock: SparseHole, NumBlocks: 2}}
	got, err := ExtentsToPatchPositions(extents, 4096, 8192)
	if err != nil {
		t.Fatal(err)
	}
	want := "-1:8192"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtentsToPatchPositionsMultipleTruncatesLast(t *testing.T) {
	extents := []Extent{
		{StartBlock: 0, NumBlocks: 1},
		{StartBlock: 5, NumBlocks: 2},
	}
	// Full length is 1.5 blocks: all of the first extent and half a block of
	// the second.
	fullLength := uint64(4096 + 2048)
	got, err := ExtentsToPatchPositions(extents, 4096, fullLength)
	if err != nil {
		t.Fatal(err)
	}
	want := "0:4096,20480:2048"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtentsToPatchPositionsNoTrailingComma(t *testing.T) {
	extents := []Extent{{StartBlock: 0, NumBlocks: 1}}
	got, err := ExtentsToPatchPositions(extents, 4096, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if got[len(got)-1] == ',' {
		t.Errorf("output has trailing comma: %q", got)
	}
}

func TestExtentsToPatchPositionsInsufficientCapacity(t *testing.T) {
	extents := []Extent{{StartBlock: 0, NumBlocks: 1}}
	if _, err := ExtentsToPatchPositions(extents, 4096, 8192); err == nil {
		t.Error("expected error when extent capacity is less than full length")
	}
}

func TestExtentsToPatchPositionsSumEqualsFullLength(t *testing.T) {
	extents := []Extent{
		{StartBlock: 0, NumBlocks: 3},
		{StartBlock: SparseHole, NumBlocks: 2},
		{StartBlock: 20, NumBlocks: 5},
	}
	fullLength := uint64(4096*3 + 4096*2 + 4096*3 - 500)
	got, err := ExtentsToPatchPositions(extents, 4096, fullLength)
	if err != nil {
		t.Fatal(err)
	}

	var sum uint64
	for _, part := range splitLengths(t, got) {
		sum += part
	}
	if sum != fullLength {
		t.Errorf("sum of emitted lengths = %d, want %d", sum, fullLength)
	}
}

// splitLengths is a small test helper that extracts the length component
// from each "start:length" entry in a patch-position string.
func splitLengths(t *testing.T, positions string) []uint64 {
	t.Helper()
	var lengths []uint64
	start := 0
	for i := 0; i <= len(positions); i++ {
		if i == len(positions) || positions[i] == ',' {
			entry := positions[start:i]
			for j := 0; j < len(entry); j++ {
				if entry[j] == ':' {
					var value uint64
					for _, c := range entry[j+1:] {
						value = value*10 + uint64(c-'0')
					}
					lengths = append(lengths, value)
					break
				}
			}
			start = i + 1
		}
	}
	return lengths
}
