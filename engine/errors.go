package engine

import "errors"

var (
	ErrStopped        = errors.New("engine stopped")
	ErrUnknownTorrent = errors.New("unknown torrent")
	ErrNotReady       = errors.New("torrent not ready")
	ErrTorrentError   = errors.New("torrent in error state")
	ErrInvalidHash    = errors.New("invalid info-hash")

	errNoMatch = errors.New("no file matches the requested episode")
	errNoFiles = errors.New("torrent has no files")
)
