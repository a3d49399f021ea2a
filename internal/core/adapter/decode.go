package adapter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodeBody undoes Content-Encoding. Stacked encodings ("gzip, br") are
// removed in reverse order. Unknown encodings are passed through. Every
// decoded stage is held to limit bytes; limit <= 0 means unlimited.
func decodeBody(encoding string, data []byte, limit int64) ([]byte, error) {
	if encoding == "" || len(data) == 0 {
		return data, nil
	}
	codings := strings.Split(encoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		var err error
		data, err = decodeOne(strings.TrimSpace(codings[i]), data, limit)
		if err != nil {
			return nil, fmt.Errorf("decode %s body: %w", codings[i], err)
		}
	}
	return data, nil
}

func decodeOne(coding string, data []byte, limit int64) ([]byte, error) {
	switch strings.ToLower(coding) {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return readLimited(r, limit)

	case "br":
		return readLimited(brotli.NewReader(bytes.NewReader(data)), limit)

	case "zstd":
		d, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return readLimited(d, limit)

	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		if r, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			defer r.Close()
			return readLimited(r, limit)
		}
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return readLimited(r, limit)

	default:
		return data, nil
	}
}
