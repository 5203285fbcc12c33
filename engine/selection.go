package engine

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/stremd/stremd/session"
)

var videoExtensions = map[string]struct{}{
	"mkv":  {},
	"mp4":  {},
	"avi":  {},
	"webm": {},
	"ts":   {},
	"mov":  {},
	"wmv":  {},
	"flv":  {},
	"m4v":  {},
	"3gp":  {},
	"mpg":  {},
	"mpeg": {},
	"ogv":  {},
}

func isVideo(name string) bool {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	_, ok := videoExtensions[ext]
	return ok
}

// episodePattern matches SxxEyy and NxM episode markers, case insensitive,
// with optional leading zeros and an optional separator between season and
// episode. Word boundaries keep S1E2 from matching inside S12E02.
func episodePattern(season, episode int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(
		`(?i)(s0?%d[.\s_-]?e0?%d\b)|(\b0?%dx0?%d\b)`,
		season, episode, season, episode,
	))
}

// selectFile resolves which file of the torrent to stream. Priority order:
// episode pattern match, explicit index, largest video file, file zero.
func selectFile(files []session.FileInfo, fileIdx, season, episode int) (int, error) {
	if len(files) == 0 {
		return -1, errNoFiles
	}

	if season > 0 && episode > 0 {
		re := episodePattern(season, episode)
		for _, f := range files {
			if isVideo(f.Path) && re.MatchString(path.Base(f.Path)) {
				return f.Index, nil
			}
		}
		return -1, errNoMatch
	}

	if fileIdx >= 0 && fileIdx < len(files) {
		return fileIdx, nil
	}

	best := -1
	var bestSize int64 = -1
	for _, f := range files {
		if isVideo(f.Path) && f.Size > bestSize {
			best = f.Index
			bestSize = f.Size
		}
	}
	if best >= 0 {
		return best, nil
	}

	return 0, nil
}
