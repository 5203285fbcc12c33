package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	const size = 1000

	cases := []struct {
		header string
		start  int64
		end    int64
	}{
		{"bytes=0-", 0, 999},
		{"bytes=500-", 500, 999},
		{"bytes=999-", 999, 999},
		{"bytes=0-0", 0, 0},
		{"bytes=100-200", 100, 200},
		{"bytes=100-100", 100, 100},
		{"bytes=100-5000", 100, 999}, // end clamped to size-1
		{"bytes=-1", 999, 999},
		{"bytes=-200", 800, 999},
		{"bytes=-5000", 0, 999}, // suffix longer than file
	}

	for _, c := range cases {
		t.Run(c.header, func(t *testing.T) {
			r, err := parseRange(c.header, size)
			require.NoError(t, err)
			assert.Equal(t, c.start, r.start)
			assert.Equal(t, c.end, r.end)
		})
	}
}

func TestParseRangeRejects(t *testing.T) {
	const size = 1000

	for _, header := range []string{
		"",
		"bytes",
		"bytes=",
		"bytes=-",
		"bytes=abc-",
		"bytes=0-abc",
		"bytes=0-100,200-300", // multi-range
		"bytes=1000-",         // start == size
		"bytes=5000-6000",     // start beyond size
		"bytes=200-100",       // end < start
		"bytes=-0",            // zero suffix
		"items=0-100",
		"0-100",
	} {
		t.Run(header, func(t *testing.T) {
			_, err := parseRange(header, size)
			assert.Error(t, err)
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "video/x-matroska", contentType("movie.mkv"))
	assert.Equal(t, "video/x-matroska", contentType("MOVIE.MKV"))
	assert.Equal(t, "video/mp4", contentType("movie.mp4"))
	assert.Equal(t, "video/mp4", contentType("movie.unknownext"))
	assert.Equal(t, "video/mp4", contentType("noext"))
}
