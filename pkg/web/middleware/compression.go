package middleware

import (
	"strings"

	"github.com/fluxorio/blockflow/pkg/web"
	"github.com/valyala/fasthttp"
)

// CompressionConfig configures response compression
type CompressionConfig struct {
	// Level is the gzip level (1-9, default: 6)
	Level int

	// MinSize is the minimum body size to compress (default: 1024 bytes)
	MinSize int

	// ContentTypes lists compressible content types
	ContentTypes []string

	// SkipPaths is a list of path prefixes never compressed
	SkipPaths []string
}

// DefaultCompressionConfig returns a default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		Level:   6,
		MinSize: 1024,
		ContentTypes: []string{
			"text/plain",
			"application/json",
			"application/openmetrics-text",
		},
	}
}

// Compression gzips response bodies for clients that accept it.
func Compression(config CompressionConfig) web.FastMiddleware {
	level := config.Level
	if level < 1 || level > 9 {
		level = 6
	}
	minSize := config.MinSize
	if minSize < 0 {
		minSize = 1024
	}
	contentTypes := config.ContentTypes
	if len(contentTypes) == 0 {
		contentTypes = DefaultCompressionConfig().ContentTypes
	}

	compressible := func(contentType string) bool {
		contentType = strings.ToLower(contentType)
		for _, ct := range contentTypes {
			if strings.HasPrefix(contentType, ct) {
				return true
			}
		}
		return false
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			err := next(ctx)
			if err != nil || skipped(string(ctx.Path()), config.SkipPaths) {
				return err
			}

			resp := &ctx.RequestCtx.Response
			if len(resp.Header.Peek(fasthttp.HeaderContentEncoding)) > 0 {
				return nil
			}
			if !ctx.RequestCtx.Request.Header.HasAcceptEncoding("gzip") {
				return nil
			}
			body := resp.Body()
			if len(body) < minSize || !compressible(string(resp.Header.ContentType())) {
				return nil
			}

			resp.SetBodyRaw(fasthttp.AppendGzipBytesLevel(nil, body, level))
			resp.Header.Set(fasthttp.HeaderContentEncoding, "gzip")
			resp.Header.Add(fasthttp.HeaderVary, "Accept-Encoding")
			return nil
		}
	}
}
