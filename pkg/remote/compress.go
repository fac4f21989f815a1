package remote

import (
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// acceptEncoding is sent with every request. OSTree mirrors behind a CDN
// commonly answer with either codec.
const acceptEncoding = "zstd, gzip"

// decodeBody undoes the response Content-Encoding. The returned close
// function releases decoder state and must always be called.
func decodeBody(body io.Reader, contentEncoding string) (io.Reader, func(), error) {
	switch encoding(contentEncoding) {
	case "zstd":
		dec, err := zstd.NewReader(body)
		if err != nil {
			return nil, nil, errors.Wrap(err, "zstd response")
		}
		return dec, dec.Close, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, errors.Wrap(err, "gzip response")
		}
		return zr, func() { zr.Close() }, nil
	default:
		return body, func() {}, nil
	}
}

// encoding returns the last coding applied to a response.
func encoding(header string) string {
	parts := strings.Split(header, ",")
	return strings.ToLower(strings.TrimSpace(parts[len(parts)-1]))
}
