package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

var gzipReaders = sync.Pool{
	New: func() any { return new(gzip.Reader) },
}

// RequestDecompression unpacks gzip request bodies before they reach the
// handlers. Share producers on cellular links compress their payloads;
// everything downstream only ever sees plain JSON. A body that claims gzip
// but does not parse as gzip is a 400.
func RequestDecompression() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !requestIsGzipped(req.Header) {
				return next(c)
			}

			raw := req.Body
			zr := gzipReaders.Get().(*gzip.Reader)
			if err := zr.Reset(raw); err != nil {
				gzipReaders.Put(zr)
				_ = raw.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "body is not valid gzip")
			}

			req.Body = &unpackedBody{zr: zr, raw: raw}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func requestIsGzipped(h http.Header) bool {
	for _, enc := range strings.Split(h.Get(echo.HeaderContentEncoding), ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

// unpackedBody returns its pooled reader on Close. The HTTP server closes
// the request body exactly once after the handler returns.
type unpackedBody struct {
	zr  *gzip.Reader
	raw io.ReadCloser
}

func (b *unpackedBody) Read(p []byte) (int, error) {
	return b.zr.Read(p)
}

func (b *unpackedBody) Close() error {
	err := b.zr.Close()
	gzipReaders.Put(b.zr)
	if cerr := b.raw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
