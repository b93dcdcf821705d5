package applier

import (
	"encoding/base64"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/opendelta/payloadapplier/pkg/logging"
)

// MaxMoveBufferBytesDefault bounds how large a MOVE operation's staging
// buffer may grow before the engine refuses to allocate it, guarding against
// a malformed manifest describing an implausibly large move.
const MaxMoveBufferBytesDefault uint64 = 512 * 1024 * 1024

// progressLogInterval controls how often the engine emits an info-level
// progress line while draining operations.
const progressLogInterval = 1000

// Options configures an Applier at construction time.
type Options struct {
	// Logger receives progress and warning messages. Nil means a sublogger
	// of logging.RootLogger.
	Logger *logging.Logger
	// SupportedVersions, if non-empty, restricts accepted payload version
	// bytes to this allow-list. Empty (the default) accepts any version.
	SupportedVersions [][8]byte
	// MaxMoveBufferBytes bounds the staging buffer MOVE operations allocate.
	// Zero means MaxMoveBufferBytesDefault.
	MaxMoveBufferBytes uint64
	// BSpatchPath is the path to the external bspatch binary.
	BSpatchPath string
	// TempDir is where BSDIFF stages its patch input file. Empty means
	// os.TempDir().
	TempDir string
}

func (o *Options) maxMoveBufferBytes() uint64 {
	if o.MaxMoveBufferBytes == 0 {
		return MaxMoveBufferBytesDefault
	}
	return o.MaxMoveBufferBytes
}

func (o *Options) bspatchPath() string {
	if o.BSpatchPath == "" {
		return "bspatch"
	}
	return o.BSpatchPath
}

func (o *Options) tempDir() string {
	if o.TempDir == "" {
		return os.TempDir()
	}
	return o.TempDir
}

// device is the minimal file-like handle the engine needs from an open
// partition: positioned reads and writes.
type device interface {
	positionedWriter
	ReadAt(p []byte, off int64) (int, error)
}

// Applier is the streaming payload consumer. It is constructed once per
// update attempt and driven by repeated calls to Write.
type Applier struct {
	opts   Options
	logger *logging.Logger
	prefs  *prefsAdapter
	term   *Terminator

	buffer       []byte
	bufferOffset uint64

	manifestValid        bool
	manifest             *DeltaArchiveManifest
	manifestMetadataSize uint64
	blockSize            uint64
	nextOperationNum     uint64

	sigState          signatureExtractionState
	signedHashContext []byte

	hash                    *hashTracker
	lastUpdatedBufferOffset uint64

	rootfsPath string
	rootfsFile *os.File
	kernelPath string
	kernelFile *os.File

	closed bool
}

// NewApplier creates an Applier bound to store for checkpoint persistence.
func NewApplier(store Store, term *Terminator, opts Options) *Applier {
	if term == nil {
		term = NewTerminator()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.RootLogger.Sublogger("applier")
	}
	return &Applier{
		opts:   opts,
		logger: logger,
		prefs:  newPrefsAdapter(store),
		term:   term,
		hash:   newHashTracker(),
	}
}

// ResumeFrom restores the applier's parse and progress state from a prior
// checkpoint, so a fresh process can continue an interrupted update. The
// caller must supply the manifest independently (the host is expected to
// keep or re-fetch it across restarts) since only the checkpoint scalars are
// persisted. Per the open question in the design notes, the signed hash
// context is deliberately not restored: if a resumed update completes past
// the signature point, VerifyPayload will see an empty context and fail
// rather than silently synthesizing one.
func (a *Applier) ResumeFrom(store Store, manifest *DeltaArchiveManifest) error {
	prefs := newPrefsAdapter(store)

	nextOp, ok, err := prefs.nextOperation()
	if err != nil {
		return err
	}
	if !ok || nextOp <= 0 {
		return errors.New("no valid resume checkpoint present")
	}

	dataOffset, ok, err := prefs.nextDataOffset()
	if err != nil || !ok {
		return errors.New("resume checkpoint missing next data offset")
	}

	shaContext, ok, err := prefs.sha256Context()
	if err != nil || !ok || shaContext == "" {
		return errors.New("resume checkpoint missing hash context")
	}
	decoded, err := base64.StdEncoding.DecodeString(shaContext)
	if err != nil {
		return errors.Wrap(err, "resume checkpoint hash context is not valid base64")
	}
	if err := a.hash.loadContext(decoded); err != nil {
		return errors.Wrap(err, "unable to restore hash context")
	}

	metadataSize, ok, err := prefs.manifestMetadataSize()
	if err != nil || !ok || metadataSize <= 0 {
		return errors.New("resume checkpoint missing manifest metadata size")
	}

	a.manifest = manifest
	a.manifestValid = true
	a.blockSize = manifest.BlockSize
	a.manifestMetadataSize = uint64(metadataSize)
	a.nextOperationNum = uint64(nextOp)
	a.bufferOffset = uint64(dataOffset)
	a.lastUpdatedBufferOffset = a.bufferOffset

	return nil
}

// ResumeOffset reports how many leading bytes of the original payload a
// caller resuming from a checkpoint should skip before feeding the
// remainder to Write. It is only meaningful after a successful ResumeFrom.
func (a *Applier) ResumeOffset() uint64 {
	return a.manifestMetadataSize + a.bufferOffset
}

// Open acquires the rootfs device file descriptor.
func (a *Applier) Open(path string) error {
	if a.rootfsFile != nil {
		return errors.New("rootfs device already open")
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "unable to open rootfs device")
	}
	a.rootfsPath = path
	a.rootfsFile = f
	return nil
}

// OpenKernel acquires the kernel device file descriptor.
func (a *Applier) OpenKernel(path string) error {
	if a.kernelFile != nil {
		return errors.New("kernel device already open")
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "unable to open kernel device")
	}
	a.kernelPath = path
	a.kernelFile = f
	return nil
}

// Close releases device descriptors. It is an error to close with unconsumed
// buffered bytes still pending.
func (a *Applier) Close() error {
	if len(a.buffer) > 0 {
		return errors.New("cannot close applier with unconsumed buffered data")
	}
	var firstErr error
	if a.rootfsFile != nil {
		if err := a.rootfsFile.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "unable to close rootfs device")
		}
		a.rootfsFile = nil
	}
	if a.kernelFile != nil {
		if err := a.kernelFile.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "unable to close kernel device")
		}
		a.kernelFile = nil
	}
	a.closed = true
	return firstErr
}

// Write appends bytes to the applier's internal buffer and drives the
// engine forward as far as the buffered data allows: completing manifest
// parsing, then executing as many pending operations as are fully available.
// It always accepts every byte passed to it unless a fatal error occurs.
func (a *Applier) Write(data []byte) (int, error) {
	a.buffer = append(a.buffer, data...)

	if !a.manifestValid {
		if err := a.tryParseManifest(); err != nil {
			return 0, err
		}
		if !a.manifestValid {
			return len(data), nil
		}
	}

	for {
		op, isKernel, opIndex := a.currentOperation()
		if op == nil {
			break
		}
		if !a.canExecute(op) {
			if op.HasDataOff && op.DataOffset < a.bufferOffset {
				return 0, errors.Errorf(
					"stream regression: operation %d data_offset %d precedes buffer_offset %d",
					opIndex, op.DataOffset, a.bufferOffset,
				)
			}
			break
		}

		dev, devicePath := a.rootfsFile, a.rootfsPath
		if isKernel {
			dev, devicePath = a.kernelFile, a.kernelPath
		}
		if dev == nil {
			return 0, errors.New("target device is not open")
		}

		if err := a.executeOperation(op, dev, devicePath); err != nil {
			return 0, err
		}

		a.logProgress(opIndex)
	}

	return len(data), nil
}

// tryParseManifest attempts to complete manifest parsing from the head of
// the buffer, discarding the consumed prefix bytes (feeding them to the
// hash tracker) on success.
func (a *Applier) tryParseManifest() error {
	if len(a.buffer) >= prefixHeaderLength {
		version := versionBytes(a.buffer)
		if err := validateVersion(version, a.opts.SupportedVersions); err != nil {
			return err
		}
	}

	parsed, err := tryParsePrefix(a.buffer)
	if err != nil {
		return err
	}
	if parsed == nil {
		return nil
	}

	a.manifest = parsed.manifest
	a.manifestMetadataSize = parsed.manifestMetadataSize
	a.blockSize = parsed.manifest.BlockSize
	a.manifestValid = true

	a.hash.Write(a.buffer[:a.manifestMetadataSize])
	a.buffer = a.buffer[a.manifestMetadataSize:]

	if err := a.prefs.setManifestMetadataSize(int64(a.manifestMetadataSize)); err != nil {
		return errors.Wrap(err, "unable to persist manifest metadata size")
	}

	return nil
}

// totalOperations returns the combined length of the rootfs and kernel
// operation lists.
func (a *Applier) totalOperations() uint64 {
	return uint64(len(a.manifest.InstallOperations) + len(a.manifest.KernelInstallOperations))
}

// currentOperation resolves the operation at nextOperationNum, indicating
// whether it targets the kernel partition and its combined-list index. It
// returns a nil operation once all operations have been executed.
func (a *Applier) currentOperation() (op *InstallOperation, isKernel bool, index uint64) {
	index = a.nextOperationNum
	rootfsCount := uint64(len(a.manifest.InstallOperations))
	if index < rootfsCount {
		return &a.manifest.InstallOperations[index], false, index
	}
	kernelIndex := index - rootfsCount
	if kernelIndex < uint64(len(a.manifest.KernelInstallOperations)) {
		return &a.manifest.KernelInstallOperations[kernelIndex], true, index
	}
	return nil, false, index
}

// canExecute reports whether op's data dependency is fully satisfied by the
// currently buffered bytes. MOVE never depends on the data blob.
func (a *Applier) canExecute(op *InstallOperation) bool {
	if op.Type == OpMove {
		return true
	}
	if !op.HasDataOff || !op.HasDataLen {
		return false
	}
	if op.DataOffset < a.bufferOffset {
		return false
	}
	return op.DataOffset+op.DataLength <= a.bufferOffset+uint64(len(a.buffer))
}

// executeOperation runs the crash-safety pre-step, dispatches op, and
// checkpoints progress.
func (a *Applier) executeOperation(op *InstallOperation, dev device, devicePath string) error {
	idempotent := op.IsIdempotent()

	if !idempotent {
		if err := a.prefs.invalidateNextOperation(); err != nil {
			return errors.Wrap(err, "unable to invalidate checkpoint before non-idempotent operation")
		}
		a.term.Engage()
	}

	dispatchErr := a.dispatch(op, dev, devicePath)
	if dispatchErr != nil {
		if !idempotent {
			a.term.Release()
		}
		return dispatchErr
	}

	a.nextOperationNum++

	if err := a.checkpointProgress(!idempotent); err != nil {
		if !idempotent {
			a.term.Release()
		}
		return err
	}

	if !idempotent {
		a.term.Release()
	}
	return nil
}

// checkpointProgress persists resume state after a completed operation. If
// alreadyEngaged is true, the terminator was engaged by the non-idempotent
// pre-step and remains engaged through this call; otherwise checkpointProgress
// engages and releases it itself.
func (a *Applier) checkpointProgress(alreadyEngaged bool) error {
	if !alreadyEngaged {
		a.term.Engage()
		defer a.term.Release()
	}

	if a.bufferOffset > a.lastUpdatedBufferOffset {
		if err := a.prefs.invalidateNextOperation(); err != nil {
			return errors.Wrap(err, "unable to invalidate checkpoint before advancing offset")
		}
		context, err := a.hash.saveContext()
		if err != nil {
			return errors.Wrap(err, "unable to save hash context")
		}
		if err := a.prefs.setSHA256Context(base64.StdEncoding.EncodeToString(context)); err != nil {
			return errors.Wrap(err, "unable to persist hash context")
		}
		if err := a.prefs.setNextDataOffset(int64(a.bufferOffset)); err != nil {
			return errors.Wrap(err, "unable to persist next data offset")
		}
		a.lastUpdatedBufferOffset = a.bufferOffset
	}

	if err := a.prefs.setNextOperation(int64(a.nextOperationNum)); err != nil {
		return errors.Wrap(err, "unable to persist next operation")
	}
	return nil
}

// discardHead removes n bytes from the front of the buffer, feeding them to
// the running hash and advancing bufferOffset. n must not exceed len(buffer).
func (a *Applier) discardHead(n uint64) {
	a.hash.Write(a.buffer[:n])
	a.buffer = a.buffer[n:]
	a.bufferOffset += n
}

// dispatch executes a single operation against dev.
func (a *Applier) dispatch(op *InstallOperation, dev device, devicePath string) error {
	switch op.Type {
	case OpReplace, OpReplaceBz:
		return a.dispatchReplace(op, dev)
	case OpMove:
		return a.dispatchMove(op, dev)
	case OpBsdiff:
		return a.dispatchBsdiff(op, dev, devicePath)
	default:
		return errors.Errorf("unknown install operation type %v", op.Type)
	}
}

func (a *Applier) dispatchReplace(op *InstallOperation, dev device) error {
	if a.bufferOffset != op.DataOffset {
		return errors.New("replace operation is not aligned with buffer offset")
	}
	if uint64(len(a.buffer)) < op.DataLength {
		return errors.New("buffer does not yet hold the full replace data blob")
	}

	a.maybeExtractSignature(op)

	direct := newDirectExtentWriter(dev, op.DstExtents, a.blockSize)
	var sink extentSink = newZeroPadWriter(direct, a.blockSize)
	if op.Type == OpReplaceBz {
		sink = newBzip2Writer(sink)
	}

	if err := sink.write(a.buffer[:op.DataLength]); err != nil {
		return errors.Wrap(err, "unable to write replace operation data")
	}
	if err := sink.end(); err != nil {
		return errors.Wrap(err, "unable to finalize replace operation writer")
	}

	a.discardHead(op.DataLength)
	return nil
}

// maybeExtractSignature performs the once-only signature message extraction,
// snapshotting the hash context that precedes the signature bytes before
// they are hashed by the subsequent discardHead.
func (a *Applier) maybeExtractSignature(op *InstallOperation) {
	if !shouldExtractSignature(a.manifest, op, &a.sigState, a.bufferOffset, len(a.buffer)) {
		return
	}

	message := make([]byte, op.DataLength)
	copy(message, a.buffer[:op.DataLength])
	a.sigState.message = message
	a.sigState.extracted = true

	if snapshot, err := a.hash.saveContext(); err == nil {
		a.signedHashContext = snapshot
		if perr := a.prefs.setSignedSHA256Context(base64.StdEncoding.EncodeToString(snapshot)); perr != nil {
			a.logger.Warningf("unable to persist signed hash context: %v", perr)
		}
	} else {
		a.logger.Warningf("unable to snapshot signed hash context: %v", err)
	}
}

func (a *Applier) dispatchMove(op *InstallOperation, dev device) error {
	srcBlocks := TotalBlocks(op.SrcExtents)
	dstBlocks := TotalBlocks(op.DstExtents)
	if srcBlocks != dstBlocks {
		return errors.Errorf("move operation block count mismatch: src %d, dst %d", srcBlocks, dstBlocks)
	}

	bufferSize := srcBlocks * a.blockSize
	if bufferSize > a.opts.maxMoveBufferBytes() {
		return errors.Errorf("move operation staging buffer of %d bytes exceeds limit of %d", bufferSize, a.opts.maxMoveBufferBytes())
	}

	staging := make([]byte, bufferSize)
	var readOffset uint64
	for _, extent := range op.SrcExtents {
		length := extent.ByteLength(a.blockSize)
		if !extent.IsSparseHole() {
			n, err := dev.ReadAt(staging[readOffset:readOffset+length], int64(extent.StartBlock*a.blockSize))
			if err != nil {
				return errors.Wrap(err, "unable to read move source extent")
			}
			if uint64(n) != length {
				return errors.New("short read from move source extent")
			}
		}
		readOffset += length
	}

	direct := newDirectExtentWriter(dev, op.DstExtents, a.blockSize)
	if err := direct.write(staging); err != nil {
		return errors.Wrap(err, "unable to write move destination extents")
	}
	return direct.end()
}

func (a *Applier) dispatchBsdiff(op *InstallOperation, dev device, devicePath string) error {
	if a.bufferOffset != op.DataOffset {
		return errors.New("bsdiff operation is not aligned with buffer offset")
	}
	if uint64(len(a.buffer)) < op.DataLength {
		return errors.New("buffer does not yet hold the full bsdiff patch data")
	}

	srcPositions, err := ExtentsToPatchPositions(op.SrcExtents, a.blockSize, op.SrcLength)
	if err != nil {
		return errors.Wrap(err, "unable to compute bsdiff source positions")
	}
	dstPositions, err := ExtentsToPatchPositions(op.DstExtents, a.blockSize, op.DstLength)
	if err != nil {
		return errors.Wrap(err, "unable to compute bsdiff destination positions")
	}

	tempPath := filepath.Join(a.opts.tempDir(), "bsdiff-"+uuid.NewString())
	if err := os.WriteFile(tempPath, a.buffer[:op.DataLength], 0600); err != nil {
		return errors.Wrap(err, "unable to write bsdiff patch to temp file")
	}
	defer os.Remove(tempPath)

	cmd := exec.Command(a.opts.bspatchPath(), devicePath, devicePath, tempPath, srcPositions, dstPositions)
	if err := cmd.Run(); err != nil {
		return errors.Wrap(err, "bspatch invocation failed")
	}

	if remainder := op.DstLength % a.blockSize; remainder != 0 {
		lastExtent := op.DstExtents[len(op.DstExtents)-1]
		endByte := (lastExtent.StartBlock + lastExtent.NumBlocks) * a.blockSize
		beginByte := endByte - (a.blockSize - remainder)
		zeros := make([]byte, endByte-beginByte)
		if _, err := dev.WriteAt(zeros, int64(beginByte)); err != nil {
			return errors.Wrap(err, "unable to zero bsdiff destination tail")
		}
	}

	a.discardHead(op.DataLength)
	return nil
}

// logProgress emits an info log for operation 1, the final operation, and
// every progressLogInterval operations.
func (a *Applier) logProgress(completedIndex uint64) {
	completed := completedIndex + 1
	total := a.totalOperations()
	if completed == 1 || completed == total || completed%progressLogInterval == 0 {
		a.logger.Infof("applied operation %d of %d", completed, total)
	}
}
