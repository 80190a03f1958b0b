// Package zreader implements transparent decompression for the log formats
// sensors ship: plain text, gzip, and bzip2.
//
// Detection prefers magic bytes over file suffixes, because rotated logs
// are frequently renamed without their compression extension.
package zreader

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Compression is the detected framing of the underlying stream.
type Compression int

// Detectable compression kinds.
const (
	KindNone Compression = iota
	KindGzip
	KindBzip2
)

// String implements fmt.Stringer.
func (c Compression) String() string {
	switch c {
	case KindNone:
		return "none"
	case KindGzip:
		return "gzip"
	case KindBzip2:
		return "bzip2"
	}
	return fmt.Sprintf("Compression(%d)", int(c))
}

// Magic numbers for the supported formats.
var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicBzip2 = []byte{'B', 'Z', 'h'}
)

// Reader wraps r in a decompressing reader if the stream's leading bytes
// identify a supported compression format, and reports what was detected.
// Streams shorter than the longest magic number pass through unchanged.
func Reader(r io.Reader) (io.ReadCloser, Compression, error) {
	br := bufio.NewReader(r)
	peek, err := br.Peek(3)
	if err != nil && err != io.EOF {
		return nil, KindNone, fmt.Errorf("zreader: peek: %w", err)
	}
	switch kind := Detect(peek); kind {
	case KindGzip:
		z, err := gzip.NewReader(br)
		if err != nil {
			return nil, kind, fmt.Errorf("zreader: gzip: %w", err)
		}
		return z, kind, nil
	case KindBzip2:
		return io.NopCloser(bzip2.NewReader(br)), kind, nil
	}
	return io.NopCloser(br), KindNone, nil
}

// Detect classifies the leading bytes of a stream.
func Detect(prefix []byte) Compression {
	switch {
	case bytes.HasPrefix(prefix, magicGzip):
		return KindGzip
	case bytes.HasPrefix(prefix, magicBzip2):
		return KindBzip2
	}
	return KindNone
}
