// Package compressor provides Compressor implementations for the typed
// backend layer. Grounded on pkg/utils/encoding.go's doc comment ("Implement
// compression for large values (gzip, snappy)"); zstd is wired in over
// snappy because github.com/klauspost/compress appears in the example
// pack's own indirect dependency surface and is the more modern idiomatic
// choice for a new Go module.
package compressor

import (
	"bytes"
	"compress/gzip"
	"io"
)

// Gzip compresses with the stdlib compress/gzip package. It needs no
// third-party dependency, which makes it the natural zero-dependency
// baseline Compressor.
type Gzip struct {
	Level int // 0 uses gzip.DefaultCompression
}

func (g Gzip) Compress(data []byte) ([]byte, error) {
	level := g.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gzip) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
