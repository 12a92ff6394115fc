package record

import (
	"io"

	"github.com/pkg/errors"
)

// ErrPartialRecord is returned when a byte source ends mid-record: a fatal
// decode error for any caller, distinct from a clean EndOfStream.
var ErrPartialRecord = errors.New("record: partial record at end of stream")

// Reader decodes a forward-only record stream, reconstructing a
// monotonically non-decreasing absolute time across counter wraps.
//
// Mirrors record_stream from the original implementation: time_offset
// accumulates by TimeMask on every wrap-flagged record, and the offset is
// applied to the record that carries the wrap flag itself.
type Reader struct {
	src        io.Reader
	timeOffset uint64

	skipWraps   uint
	wrapsToSkip uint
	skipping    bool
}

// NewReader constructs a reader with no initial-wrap skipping.
func NewReader(src io.Reader) *Reader {
	return &Reader{src: src}
}

// NewReaderSkipWraps constructs a reader that discards records until the
// Nth wrap-flagged record has been seen, after which time_offset resets to
// zero and delivery begins with the next record. N=0 behaves like NewReader.
func NewReaderSkipWraps(src io.Reader, n uint) *Reader {
	r := &Reader{src: src, skipWraps: n, wrapsToSkip: n, skipping: n > 0}
	return r
}

// Next returns the next record, io.EOF on a clean end of stream, or
// ErrPartialRecord if the source ended mid-record.
func (r *Reader) Next() (Record, error) {
	for {
		rec, err := r.next()
		if err != nil {
			return Record{}, err
		}
		if r.skipping {
			if rec.Wrap() {
				r.wrapsToSkip--
				if r.wrapsToSkip == 0 {
					r.skipping = false
					r.timeOffset = 0
				}
			}
			continue
		}
		return rec, nil
	}
}

func (r *Reader) next() (Record, error) {
	var buf [Length]byte
	n, err := io.ReadFull(r.src, buf[:])
	switch {
	case err == io.EOF && n == 0:
		return Record{}, io.EOF
	case err == io.ErrUnexpectedEOF || (err == io.EOF && n > 0):
		return Record{}, ErrPartialRecord
	case err != nil:
		return Record{}, errors.Wrap(err, "record: read")
	}

	rec := Decode(buf)
	if rec.Wrap() {
		r.timeOffset += TimeMask
	}
	rec.Time = rec.RawTime() + r.timeOffset
	return rec, nil
}

// Writer emits records' raw 48-bit payloads as 6-byte big-endian frames. It
// never writes the reconstructed absolute time.
type Writer struct {
	dst io.Writer
}

// NewWriter constructs a Writer over dst.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{dst: dst}
}

// Write emits one record's wire frame.
func (w *Writer) Write(r Record) error {
	buf := r.Encode()
	_, err := w.dst.Write(buf[:])
	if err != nil {
		return errors.Wrap(err, "record: write")
	}
	return nil
}
