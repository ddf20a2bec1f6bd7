package cachetier

import (
	"bytes"
	"compress/gzip"
	"io"
)

// compress gzips a JSON payload before it is handed to the remote store.
// Stdlib compress/gzip is used deliberately: no example repo in this
// project's corpus imports a third-party compression library for cache
// payloads (klauspost/compress shows up only as an indirect transitive
// dependency of unrelated HTTP/gRPC stacks, never imported directly for
// this purpose), so reaching for one here would be speculative rather
// than grounded. See DESIGN.md.
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
