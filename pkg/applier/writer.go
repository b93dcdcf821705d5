package applier

import (
	"compress/bzip2"
	"io"

	"github.com/pkg/errors"
)

// extentSink is the interface implemented by every stage in the extent
// writer stack: init/write/end, mirroring the staging package's
// Sink/Storage split (allocate, write incrementally, commit).
type extentSink interface {
	// write accepts a chunk of the logical output stream.
	write(data []byte) error
	// end finalizes the sink, flushing any buffered output.
	end() error
}

// positionedWriter is the minimal device interface the direct extent writer
// needs: a positioned write, matching how block devices are actually
// written (no seek+write races between concurrent writers, since the
// applier is single-threaded, but positioned writes keep the sink
// stateless with respect to the underlying file's cursor).
type positionedWriter interface {
	WriteAt(data []byte, offset int64) (int, error)
}

// directExtentWriter scatter-writes a logical byte stream across an ordered
// list of extents on a single file descriptor. A sparse-hole extent
// consumes (discards) its share of the input without issuing any I/O.
type directExtentWriter struct {
	dst       positionedWriter
	extents   []Extent
	blockSize uint64
	extentIdx int
	byteInExt uint64
	written   uint64
}

// newDirectExtentWriter creates a writer bound to dst that scatters bytes
// across extents in order.
func newDirectExtentWriter(dst positionedWriter, extents []Extent, blockSize uint64) *directExtentWriter {
	return &directExtentWriter{
		dst:       dst,
		extents:   extents,
		blockSize: blockSize,
	}
}

// write implements extentSink.write.
func (w *directExtentWriter) write(data []byte) error {
	for len(data) > 0 {
		if w.extentIdx >= len(w.extents) {
			return errors.New("extent writer input exceeds destination extent capacity")
		}

		extent := w.extents[w.extentIdx]
		extentLength := extent.ByteLength(w.blockSize)
		remainingInExtent := extentLength - w.byteInExt

		chunk := data
		if uint64(len(chunk)) > remainingInExtent {
			chunk = chunk[:remainingInExtent]
		}

		if !extent.IsSparseHole() {
			offset := int64(extent.StartBlock*w.blockSize + w.byteInExt)
			n, err := w.dst.WriteAt(chunk, offset)
			if err != nil {
				return errors.Wrap(err, "unable to write to extent")
			}
			if n != len(chunk) {
				return errors.New("short write to extent")
			}
		}
		// A sparse hole discards the chunk: writes to it are simply dropped.

		w.byteInExt += uint64(len(chunk))
		w.written += uint64(len(chunk))
		data = data[len(chunk):]

		if w.byteInExt == extentLength {
			w.extentIdx++
			w.byteInExt = 0
		}
	}
	return nil
}

// end implements extentSink.end. The direct writer has no buffered state to
// flush.
func (w *directExtentWriter) end() error {
	return nil
}

// zeroPadWriter wraps an extentSink and, at end, pads the total bytes
// written with zeros up to the next whole block boundary. The padding
// applies to what has been written to the underlying sink, not to what was
// fed into this writer's write method.
type zeroPadWriter struct {
	inner     extentSink
	blockSize uint64
	written   uint64
}

// newZeroPadWriter wraps inner with block-size zero padding.
func newZeroPadWriter(inner extentSink, blockSize uint64) *zeroPadWriter {
	return &zeroPadWriter{inner: inner, blockSize: blockSize}
}

// write implements extentSink.write.
func (w *zeroPadWriter) write(data []byte) error {
	if err := w.inner.write(data); err != nil {
		return err
	}
	w.written += uint64(len(data))
	return nil
}

// end implements extentSink.end.
func (w *zeroPadWriter) end() error {
	if remainder := w.written % w.blockSize; remainder != 0 {
		padding := make([]byte, w.blockSize-remainder)
		if err := w.inner.write(padding); err != nil {
			return errors.Wrap(err, "unable to write zero padding")
		}
	}
	return w.inner.end()
}

// bzip2Writer wraps an extentSink and decompresses a bzip2 stream fed to its
// write method, forwarding decompressed output to the inner sink.
//
// compress/bzip2 only exposes a streaming reader, and that reader cannot
// continue once its source has reported an error in mid-stream. Each write
// call therefore only appends the compressed bytes to an internal buffer;
// end() marks the buffer complete, decompresses it and forwards all output.
type bzip2Writer struct {
	inner  extentSink
	reader *bzip2ChunkReader
	bz     io.Reader
}

// newBzip2Writer wraps inner with a streaming bzip2 decompressor.
func newBzip2Writer(inner extentSink) *bzip2Writer {
	reader := newBzip2ChunkReader()
	return &bzip2Writer{
		inner:  inner,
		reader: reader,
		bz:     bzip2.NewReader(reader),
	}
}

// write implements extentSink.write. It appends compressed bytes to the
// pending buffer; decompressed output is produced by end.
func (w *bzip2Writer) write(data []byte) error {
	w.reader.feed(data)
	return nil
}

// drain reads all currently-available decompressed output and forwards it
// to the inner sink.
func (w *bzip2Writer) drain() error {
	buffer := make([]byte, 32*1024)
	for {
		n, err := w.bz.Read(buffer)
		if n > 0 {
			if werr := w.inner.write(buffer[:n]); werr != nil {
				return werr
			}
		}
		if err == errBzip2ChunkReaderStarved {
			return nil
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "bzip2 decompression failed")
		}
	}
}

// end implements extentSink.end. It signals end-of-stream to the
// decompressor and flushes any residual output.
func (w *bzip2Writer) end() error {
	w.reader.closeFeed()
	buffer := make([]byte, 32*1024)
	for {
		n, err := w.bz.Read(buffer)
		if n > 0 {
			if werr := w.inner.write(buffer[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "bzip2 decompression failed at end of stream")
		}
	}
	return w.inner.end()
}

// errBzip2ChunkReaderStarved is a sentinel error returned by
// bzip2ChunkReader.Read when it has no buffered data left but hasn't been
// told the stream is finished. It lets bzip2Writer.drain distinguish "no
// more input yet" from a real end of stream.
var errBzip2ChunkReaderStarved = errors.New("bzip2 chunk reader starved")

// bzip2ChunkReader is an io.Reader that serves bytes fed to it via feed,
// returning errBzip2ChunkReaderStarved when its buffer is empty and
// io.EOF once closeFeed has been called and the buffer is drained.
type bzip2ChunkReader struct {
	buffer []byte
	closed bool
}

func newBzip2ChunkReader() *bzip2ChunkReader {
	return &bzip2ChunkReader{}
}

// feed appends compressed bytes for the decompressor to consume.
func (r *bzip2ChunkReader) feed(data []byte) {
	r.buffer = append(r.buffer, data...)
}

// closeFeed indicates that no more compressed bytes will be fed.
func (r *bzip2ChunkReader) closeFeed() {
	r.closed = true
}

// Read implements io.Reader.
func (r *bzip2ChunkReader) Read(p []byte) (int, error) {
	if len(r.buffer) == 0 {
		if r.closed {
			return 0, io.EOF
		}
		return 0, errBzip2ChunkReaderStarved
	}
	n := copy(p, r.buffer)
	r.buffer = r.buffer[n:]
	return n, nil
}
