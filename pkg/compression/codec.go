// Package compression negotiates and applies content encodings for the
// replication stream.
package compression

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	Identity = "identity"
	Gzip     = "gzip"
	Zstd     = "zstd"
)

// Accept is the Accept-Encoding a stream reader sends, best first.
const Accept = Zstd + ", " + Gzip

// Writer is a compressing writer that can push out a partial frame.
type Writer interface {
	io.Writer
	Flush() error
	Close() error
}

// Negotiate picks the encoding to answer an Accept-Encoding header with.
// q-values are ignored except q=0, which disables an encoding.
func Negotiate(accept string) string {
	offered := map[string]bool{}
	for _, part := range strings.Split(accept, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		q := strings.ReplaceAll(strings.TrimSpace(params), " ", "")
		offered[name] = q != "q=0" && q != "q=0.0"
	}
	for _, name := range []string{Zstd, Gzip} {
		if offered[name] {
			return name
		}
	}
	return Identity
}

// NewWriter wraps w with the named encoding.
func NewWriter(name string, w io.Writer) (Writer, error) {
	switch name {
	case "", Identity:
		return nopWriter{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, gzip.BestSpeed)
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

// NewReader wraps r to decode the named encoding.
func NewReader(name string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(name) {
	case "", Identity:
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		// one goroutine: blocks are handed out as soon as they arrive
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

type nopWriter struct {
	io.Writer
}

func (nopWriter) Flush() error { return nil }
func (nopWriter) Close() error { return nil }
