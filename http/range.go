package http

import (
	"errors"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
)

var errBadRange = errors.New("invalid range")

type byteRange struct {
	start int64
	end   int64
}

// parseRange parses a single-range "bytes=" header against the file size.
// Multi-range requests are rejected; players never send them and serving
// multipart responses for video is pointless.
func parseRange(header string, size int64) (byteRange, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return byteRange{}, errBadRange
	}
	if strings.Contains(spec, ",") {
		return byteRange{}, errBadRange
	}

	dash := strings.Index(spec, "-")
	if dash < 0 {
		return byteRange{}, errBadRange
	}
	startPart, endPart := spec[:dash], spec[dash+1:]

	if startPart == "" {
		// suffix form: last S bytes
		s, err := strconv.ParseInt(endPart, 10, 64)
		if err != nil || s <= 0 {
			return byteRange{}, errBadRange
		}
		start := size - s
		if start < 0 {
			start = 0
		}
		return byteRange{start: start, end: size - 1}, nil
	}

	start, err := strconv.ParseInt(startPart, 10, 64)
	if err != nil || start < 0 || start >= size {
		return byteRange{}, errBadRange
	}

	if endPart == "" {
		return byteRange{start: start, end: size - 1}, nil
	}

	end, err := strconv.ParseInt(endPart, 10, 64)
	if err != nil || end < start {
		return byteRange{}, errBadRange
	}
	if end > size-1 {
		end = size - 1
	}
	return byteRange{start: start, end: end}, nil
}

// contentType resolves the response media type from the file extension.
// Matroska gets its video type explicitly since the mime package maps it
// inconsistently across platforms.
func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".mkv" {
		return "video/x-matroska"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "video/mp4"
}
