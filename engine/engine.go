package engine

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stremd/stremd/config"
	"github.com/stremd/stremd/session"
	"github.com/stremd/stremd/stream"
)

// Session is what the engine needs from the session adapter. Satisfied by
// *session.Session, faked in tests.
type Session interface {
	AddMagnet(hash string, trackers []string, saveDir string) (session.Handle, error)
	Remove(hash string)
	Events() <-chan session.Event
}

var hashRe = regexp.MustCompile(`^[a-f0-9]{40}$`)

// How many pieces at the head of the selected file get deadline boosts
// right after selection.
const boostPieces = 40

// Engine owns the torrent table and drives each entry through its
// lifecycle: loading, ready, paused, error.
type Engine struct {
	s Session

	mu       sync.Mutex
	torrents map[string]*Torrent
	metered  bool
	stopped  bool

	downloadsDir string
	trackers     []string
	maxIdle      time.Duration

	cron *cron.Cron
	stop chan struct{}
	log  zerolog.Logger
}

func New(s Session, conf *config.TorrentGlobal) *Engine {
	trackers := append([]string{}, session.DefaultTrackers...)
	trackers = append(trackers, conf.ExtraTrackers...)

	return &Engine{
		s:            s,
		torrents:     make(map[string]*Torrent),
		metered:      conf.Metered,
		downloadsDir: conf.DownloadsFolder,
		trackers:     trackers,
		maxIdle:      time.Duration(conf.MaxIdleHours) * time.Hour,
		stop:         make(chan struct{}),
		log:          log.Logger.With().Str("component", "engine").Logger(),
	}
}

// Start launches the event pump and the hourly idle-eviction job.
func (e *Engine) Start() {
	go e.pump()

	e.cron = cron.New()
	e.cron.AddFunc("@hourly", func() {
		e.CleanupIdle(e.maxIdle)
	})
	e.cron.Start()
}

func (e *Engine) Close() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()

	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	close(e.stop)
}

func (e *Engine) pump() {
	events := e.s.Events()
	for {
		select {
		case ev := <-events:
			e.handleEvent(ev)
		case <-e.stop:
			return
		}
	}
}

func (e *Engine) handleEvent(ev session.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.torrents[ev.Hash]
	if !ok {
		return
	}

	switch ev.Kind {
	case session.EventMetadataReceived:
		if !t.metadataReady {
			e.selectAndPrioritize(t)
		}
	case session.EventFinished:
		e.log.Info().Str("hash", ev.Hash).Msg("torrent finished")
	case session.EventError:
		e.log.Error().Err(ev.Err).Str("hash", ev.Hash).Msg("torrent error")
		t.status = StatusError
	}
}

// StartTorrent ensures a torrent exists for the hash. Optional hints:
// fileIdx picks a file by index, season/episode pick by episode pattern.
// Pass -1 for hints not supplied. Returns promptly; metadata resolution
// continues in the background.
func (e *Engine) StartTorrent(hash string, fileIdx, season, episode int) (Snapshot, error) {
	hash = strings.ToLower(hash)
	if !hashRe.MatchString(hash) {
		return Snapshot{}, ErrInvalidHash
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return Snapshot{}, ErrStopped
	}

	if t, ok := e.torrents[hash]; ok {
		t.lastAccessed = time.Now()
		if season > 0 && episode > 0 &&
			(season != t.requestedSeason || episode != t.requestedEpisode) {
			t.requestedSeason = season
			t.requestedEpisode = episode
			if t.metadataReady {
				e.selectAndPrioritize(t)
			}
		}
		return t.snapshot(), nil
	}

	saveDir := filepath.Join(e.downloadsDir, hash[:20])
	if err := os.MkdirAll(saveDir, 0744); err != nil {
		return Snapshot{}, fmt.Errorf("error creating save directory: %w", err)
	}

	h, err := e.s.AddMagnet(hash, e.trackers, saveDir)
	if err != nil {
		if errors.Is(err, session.ErrNotStarted) {
			return Snapshot{}, ErrStopped
		}
		return Snapshot{}, err
	}

	t := &Torrent{
		hash:             hash,
		handle:           h,
		status:           StatusLoading,
		selectedIndex:    -1,
		requestedIndex:   fileIdx,
		requestedSeason:  season,
		requestedEpisode: episode,
		saveDir:          saveDir,
		lastAccessed:     time.Now(),
	}
	e.torrents[hash] = t

	if e.metered {
		h.Pause()
		t.prevStatus = t.status
		t.status = StatusPaused
	}

	// Metadata can already be present when the torrent was cached by the
	// client; select synchronously instead of waiting for an event that
	// already fired.
	if h.HasMetadata() {
		e.selectAndPrioritize(t)
	}

	return t.snapshot(), nil
}

// selectAndPrioritize runs file selection and sets up the streaming piece
// strategy. Caller holds the engine lock.
func (e *Engine) selectAndPrioritize(t *Torrent) {
	fs, ok := t.handle.FileStorage()
	if !ok {
		return
	}

	idx, err := selectFile(fs.Files, t.requestedIndex, t.requestedSeason, t.requestedEpisode)
	if err != nil {
		e.log.Error().Err(err).Str("hash", t.hash).Msg("file selection failed")
		t.status = StatusError
		return
	}

	f := fs.Files[idx]
	t.handle.SelectFile(idx)

	t.selectedIndex = idx
	t.selectedName = path.Base(f.Path)
	t.selectedSize = f.Size
	t.diskPath = filepath.Join(t.saveDir, filepath.FromSlash(f.Path))
	t.totalFiles = len(fs.Files)
	t.fileOffset = f.Offset
	t.pieceLength = fs.PieceLength

	t.firstPiece = int(f.Offset / fs.PieceLength)
	t.lastPiece = t.firstPiece
	if f.Size > 0 {
		t.lastPiece = int((f.Offset + f.Size - 1) / fs.PieceLength)
	}

	t.handle.SetSequentialRange(t.firstPiece, t.lastPiece)

	boost := t.lastPiece - t.firstPiece + 1
	if boost > boostPieces {
		boost = boostPieces
	}
	for i := 0; i < boost; i++ {
		t.handle.SetPieceDeadline(t.firstPiece+i, time.Duration(300+120*i)*time.Millisecond)
	}

	t.metadataReady = true
	if t.status == StatusPaused {
		t.prevStatus = StatusReady
	} else {
		t.status = StatusReady
	}

	e.log.Info().
		Str("hash", t.hash).
		Str("file", t.selectedName).
		Int("index", idx).
		Msg("file selected")
}

// GetState returns a snapshot for the hash, touching last access.
func (e *Engine) GetState(hash string) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.torrents[strings.ToLower(hash)]
	if !ok {
		return Snapshot{}, false
	}
	t.lastAccessed = time.Now()
	return t.snapshot(), true
}

// StatusInfo pairs the state snapshot with live swarm counters.
type StatusInfo struct {
	Snapshot Snapshot
	Live     session.LiveStatus

	// Progress of the selected file in [0, 1]. Zero until selection.
	Progress float64
}

// Status returns the snapshot plus live swarm counters.
func (e *Engine) Status(hash string) (StatusInfo, bool) {
	e.mu.Lock()
	t, ok := e.torrents[strings.ToLower(hash)]
	if !ok {
		e.mu.Unlock()
		return StatusInfo{}, false
	}
	t.lastAccessed = time.Now()
	snap := t.snapshot()
	h := t.handle
	e.mu.Unlock()

	st := StatusInfo{Snapshot: snap, Live: h.Status()}
	if snap.MetadataReady && snap.FileSize > 0 {
		st.Progress = float64(h.FileBytesCompleted(snap.FileIndex)) / float64(snap.FileSize)
	}
	return st, true
}

// PauseTorrent stops data download for the hash. Silent on unknown hashes.
func (e *Engine) PauseTorrent(hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.torrents[strings.ToLower(hash)]
	if !ok {
		return
	}

	t.lastAccessed = time.Now()
	if t.status != StatusPaused {
		t.prevStatus = t.status
	}
	t.userPaused = true
	t.status = StatusPaused
	t.handle.Pause()
}

// ResumeTorrent restores the pre-pause status. Ignored while metered mode
// is active.
func (e *Engine) ResumeTorrent(hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.metered {
		return
	}

	t, ok := e.torrents[strings.ToLower(hash)]
	if !ok {
		return
	}

	t.lastAccessed = time.Now()
	t.userPaused = false
	if t.status != StatusPaused {
		return
	}

	t.handle.Resume()
	t.status = e.restoredStatus(t)
}

func (e *Engine) restoredStatus(t *Torrent) Status {
	if t.prevStatus != "" {
		return t.prevStatus
	}
	if t.metadataReady {
		return StatusReady
	}
	return StatusLoading
}

// RemoveTorrent drops the torrent and deletes its save directory. Silent on
// unknown hashes.
func (e *Engine) RemoveTorrent(hash string) {
	hash = strings.ToLower(hash)

	e.mu.Lock()
	t, ok := e.torrents[hash]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.torrents, hash)
	saveDir := t.saveDir
	e.mu.Unlock()

	e.s.Remove(hash)
	if err := os.RemoveAll(saveDir); err != nil {
		e.log.Warn().Err(err).Str("hash", hash).Msg("error deleting save directory")
	}
	e.log.Info().Str("hash", hash).Msg("torrent removed")
}

// SetMeteredMode pauses every torrent on entry and restores the pre-pause
// status on exit. Torrents the user paused explicitly stay paused.
func (e *Engine) SetMeteredMode(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if on == e.metered {
		return
	}
	e.metered = on

	if on {
		for _, t := range e.torrents {
			if t.status != StatusPaused {
				t.prevStatus = t.status
				t.status = StatusPaused
				t.handle.Pause()
			}
		}
		e.log.Info().Msg("metered mode on, all torrents paused")
		return
	}

	for _, t := range e.torrents {
		if t.status == StatusPaused && !t.userPaused {
			t.handle.Resume()
			t.status = e.restoredStatus(t)
		}
	}
	e.log.Info().Msg("metered mode off, torrents resumed")
}

func (e *Engine) Metered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metered
}

// CleanupIdle evicts torrents untouched for longer than maxAge.
func (e *Engine) CleanupIdle(maxAge time.Duration) {
	e.mu.Lock()
	now := time.Now()
	var evict []string
	for h, t := range e.torrents {
		if now.Sub(t.lastAccessed) > maxAge {
			evict = append(evict, h)
		}
	}
	e.mu.Unlock()

	for _, h := range evict {
		e.log.Info().Str("hash", h).Msg("evicting idle torrent")
		e.RemoveTorrent(h)
	}
}

// StreamSource exposes the selected file to the streaming reader.
func (e *Engine) StreamSource(hash string) (stream.Source, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.torrents[strings.ToLower(hash)]
	if !ok {
		return stream.Source{}, ErrUnknownTorrent
	}
	if t.status == StatusError {
		return stream.Source{}, ErrTorrentError
	}
	if !t.metadataReady || t.selectedIndex < 0 {
		return stream.Source{}, ErrNotReady
	}

	t.lastAccessed = time.Now()
	return stream.Source{
		DiskPath:    t.diskPath,
		FileOffset:  t.fileOffset,
		PieceLength: t.pieceLength,
		FileSize:    t.selectedSize,
	}, nil
}

func (e *Engine) HavePiece(hash string, piece int) bool {
	e.mu.Lock()
	t, ok := e.torrents[strings.ToLower(hash)]
	e.mu.Unlock()
	if !ok {
		return false
	}
	return t.handle.HavePiece(piece)
}

func (e *Engine) SetPieceDeadline(hash string, piece int, deadline time.Duration) {
	e.mu.Lock()
	t, ok := e.torrents[strings.ToLower(hash)]
	e.mu.Unlock()
	if !ok {
		return
	}
	t.handle.SetPieceDeadline(piece, deadline)
}

func (e *Engine) Reannounce(hash string) {
	e.mu.Lock()
	t, ok := e.torrents[strings.ToLower(hash)]
	e.mu.Unlock()
	if !ok {
		return
	}
	t.handle.ForceReannounce()
}
