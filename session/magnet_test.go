package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "0123456789abcdef0123456789abcdef01234567"

func TestBuildMagnet(t *testing.T) {
	m := BuildMagnet(testHash, []string{
		"udp://tracker.example.org:1337/announce",
		"https://other.example.com:443/announce",
	})

	assert.Equal(t,
		"magnet:?xt=urn:btih:"+testHash+
			"&tr=udp%3A%2F%2Ftracker.example.org%3A1337%2Fannounce"+
			"&tr=https%3A%2F%2Fother.example.com%3A443%2Fannounce",
		m)
}

func TestBuildMagnetNoTrackers(t *testing.T) {
	assert.Equal(t, "magnet:?xt=urn:btih:"+testHash, BuildMagnet(testHash, nil))
}

func TestBuildMagnetPreservesTrackerOrder(t *testing.T) {
	m := BuildMagnet(testHash, DefaultTrackers)

	require.True(t, strings.HasPrefix(m, "magnet:?xt=urn:btih:"+testHash))

	last := 0
	for _, tr := range DefaultTrackers {
		i := strings.Index(m, "&tr="+escaped(tr))
		require.GreaterOrEqual(t, i, 0, tr)
		assert.Greater(t, i, last, "tracker out of order: %s", tr)
		last = i
	}
}

func escaped(tr string) string {
	r := strings.NewReplacer(":", "%3A", "/", "%2F")
	return r.Replace(tr)
}

func TestDefaultTrackerCount(t *testing.T) {
	assert.Len(t, DefaultTrackers, 21)
}
