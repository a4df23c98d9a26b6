// Package archive iterates the blocks of a CAR stream without buffering it.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	carv2 "github.com/ipld/go-car/v2"
	"github.com/ipfs/go-cid"
)

// ErrTruncated is returned by Next when the stream ends before the block
// data was fully consumed. For CARv1 that is the advertised content length;
// for CARv2 it is the end of the data payload, ahead of any index.
var ErrTruncated = errors.New("archive: truncated stream")

// Record is one block of the archive.
type Record struct {
	CID  cid.Cid
	Data []byte
	// Offset is the byte position of the block's section in the stream.
	Offset int64
}

// Iterator yields archive blocks in stream order. Next returns io.EOF after
// the last block. Close releases the underlying stream.
type Iterator interface {
	Roots() []cid.Cid
	Next() (Record, error)
	Close() error
}

// CarIterator adapts a go-car BlockReader to Iterator.
type CarIterator struct {
	body    io.ReadCloser
	counter *countingReader
	reader  *carv2.BlockReader
	// dataEnd is the stream offset where block data ends, or -1 if unknown.
	dataEnd int64

	closeOnce sync.Once
	closeErr  error
}

var _ Iterator = (*CarIterator)(nil)

// Open reads the archive header from body and returns an iterator over its
// blocks. contentLength, when known, lets Next detect a short CARv1 stream.
// A CARv2 stream declares its own data size, and its trailing index is never
// read. The caller keeps ownership of body if Open fails.
func Open(body io.ReadCloser, contentLength *int64, opts ...carv2.Option) (*CarIterator, error) {
	if body == nil {
		return nil, fmt.Errorf("archive: nil body")
	}

	counter := &countingReader{r: body, keep: carv2.PragmaSize + carv2.HeaderSize}
	reader, err := carv2.NewBlockReader(counter, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot read CAR header: %w", err)
	}

	dataEnd := int64(-1)
	switch reader.Version {
	case 1:
		if contentLength != nil {
			dataEnd = *contentLength
		}
	case 2:
		var header carv2.Header
		if _, err := header.ReadFrom(bytes.NewReader(counter.head[carv2.PragmaSize:])); err != nil {
			return nil, fmt.Errorf("cannot read CARv2 header: %w", err)
		}
		dataEnd = int64(header.DataOffset + header.DataSize)
	}
	counter.head = nil

	return &CarIterator{
		body:    body,
		counter: counter,
		reader:  reader,
		dataEnd: dataEnd,
	}, nil
}

// NewIterator is Open with an Iterator result.
func NewIterator(body io.ReadCloser, contentLength *int64) (Iterator, error) {
	it, err := Open(body, contentLength)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Roots returns the root CIDs declared in the header.
func (it *CarIterator) Roots() []cid.Cid {
	return it.reader.Roots
}

// Version returns the CAR format version of the stream.
func (it *CarIterator) Version() uint64 {
	return it.reader.Version
}

// BytesRead returns how many bytes were consumed from the stream.
func (it *CarIterator) BytesRead() int64 {
	return it.counter.n
}

// Next returns the next block.
func (it *CarIterator) Next() (Record, error) {
	offset := it.counter.n

	block, err := it.reader.Next()
	switch {
	case err == nil:
		return Record{CID: block.Cid(), Data: block.RawData(), Offset: offset}, nil
	case errors.Is(err, io.EOF):
		if it.dataEnd >= 0 && it.counter.n < it.dataEnd {
			return Record{}, fmt.Errorf("%w: read %d of %d bytes", ErrTruncated, it.counter.n, it.dataEnd)
		}
		return Record{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Record{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	default:
		return Record{}, err
	}
}

// Close closes the underlying stream. It is safe to call more than once.
func (it *CarIterator) Close() error {
	it.closeOnce.Do(func() {
		it.closeErr = it.body.Close()
	})
	return it.closeErr
}

// countingReader counts consumed bytes and retains the first keep of them.
type countingReader struct {
	r    io.Reader
	n    int64
	keep int
	head []byte
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if room := c.keep - len(c.head); room > 0 && n > 0 {
		c.head = append(c.head, p[:min(n, room)]...)
	}
	c.n += int64(n)
	return n, err
}
