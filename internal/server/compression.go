// compression.go - gzip for static catalog files.
//
// The catalog CSVs and JSON compress well and are fetched on every page
// load. Only full 200 responses are compressed; range requests, HEAD and
// 304s pass through untouched.
package server

import (
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// compressionResponseWriter compresses the body once a 200 status is known.
type compressionResponseWriter struct {
	http.ResponseWriter
	gz          *gzip.Writer
	compress    bool
	wroteHeader bool
}

func (crw *compressionResponseWriter) WriteHeader(code int) {
	if crw.wroteHeader {
		return
	}
	crw.wroteHeader = true
	if code == http.StatusOK && crw.Header().Get("Content-Encoding") == "" {
		crw.compress = true
		crw.Header().Del("Content-Length") // Length will change with compression
		crw.Header().Set("Content-Encoding", "gzip")
	}
	crw.ResponseWriter.WriteHeader(code)
}

// Write compresses data before writing to the underlying writer.
func (crw *compressionResponseWriter) Write(b []byte) (int, error) {
	if !crw.wroteHeader {
		crw.WriteHeader(http.StatusOK)
	}
	if !crw.compress {
		return crw.ResponseWriter.Write(b)
	}
	if crw.gz == nil {
		crw.gz = gzip.NewWriter(crw.ResponseWriter)
	}
	return crw.gz.Write(b)
}

func (crw *compressionResponseWriter) close() error {
	if crw.gz == nil {
		return nil
	}
	return crw.gz.Close()
}

// compressionMiddleware gzips GET responses for clients that accept it.
func compressionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		if !acceptsCompression(r) || shouldSkipCompression(r) {
			next.ServeHTTP(w, r)
			return
		}

		crw := &compressionResponseWriter{ResponseWriter: w}
		defer func() { _ = crw.close() }()
		next.ServeHTTP(crw, r)
	})
}

// acceptsCompression checks if the client accepts gzip encoding.
func acceptsCompression(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// shouldSkipCompression determines if compression should be skipped for this request.
func shouldSkipCompression(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return true
	}
	// Byte ranges refer to the uncompressed file.
	return r.Header.Get("Range") != ""
}
