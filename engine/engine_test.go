package engine

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stremd/stremd/config"
	"github.com/stremd/stremd/session"
)

const testHash = "0123456789abcdef0123456789abcdef01234567"

type fakeHandle struct {
	hash    string
	saveDir string

	metadata bool
	fs       *session.FileStorage

	selected    int
	seqFirst    int
	seqLast     int
	deadlines   map[int]time.Duration
	have        map[int]bool
	completed   map[int]int64
	pauses      int
	resumes     int
	reannounces int
	live        session.LiveStatus
}

var _ session.Handle = &fakeHandle{}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		selected:  -1,
		seqFirst:  -1,
		seqLast:   -1,
		deadlines: make(map[int]time.Duration),
		have:      make(map[int]bool),
		completed: make(map[int]int64),
	}
}

func (h *fakeHandle) Hash() string                   { return h.hash }
func (h *fakeHandle) Name() string                   { return "fake" }
func (h *fakeHandle) SaveDir() string                { return h.saveDir }
func (h *fakeHandle) HasMetadata() bool              { return h.metadata }
func (h *fakeHandle) SelectFile(idx int)             { h.selected = idx }
func (h *fakeHandle) HavePiece(piece int) bool       { return h.have[piece] }
func (h *fakeHandle) Pause()                         { h.pauses++ }
func (h *fakeHandle) Resume()                        { h.resumes++ }
func (h *fakeHandle) ForceReannounce()               { h.reannounces++ }
func (h *fakeHandle) Status() session.LiveStatus     { return h.live }
func (h *fakeHandle) FileBytesCompleted(i int) int64 { return h.completed[i] }

func (h *fakeHandle) FileStorage() (*session.FileStorage, bool) {
	if h.fs == nil {
		return nil, false
	}
	return h.fs, true
}

func (h *fakeHandle) SetSequentialRange(first, last int) {
	h.seqFirst, h.seqLast = first, last
}

func (h *fakeHandle) SetPieceDeadline(piece int, deadline time.Duration) {
	h.deadlines[piece] = deadline
}

type fakeSession struct {
	handles map[string]*fakeHandle
	events  chan session.Event
	removed []string
	addErr  error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		handles: make(map[string]*fakeHandle),
		events:  make(chan session.Event, 8),
	}
}

func (s *fakeSession) AddMagnet(hash string, trackers []string, saveDir string) (session.Handle, error) {
	if s.addErr != nil {
		return nil, s.addErr
	}
	h, ok := s.handles[hash]
	if !ok {
		h = newFakeHandle()
		s.handles[hash] = h
	}
	h.hash = hash
	h.saveDir = saveDir
	return h, nil
}

func (s *fakeSession) Remove(hash string) {
	s.removed = append(s.removed, hash)
	delete(s.handles, hash)
}

func (s *fakeSession) Events() <-chan session.Event {
	return s.events
}

func testEngine(t *testing.T, s *fakeSession) *Engine {
	t.Helper()
	return New(s, &config.TorrentGlobal{
		DownloadsFolder: t.TempDir(),
		MaxIdleHours:    72,
	})
}

// metadataHandle preloads a handle whose torrent already resolved metadata:
// one big video, one subtitle, 1 KiB pieces.
func metadataHandle(s *fakeSession, hash string) *fakeHandle {
	h := newFakeHandle()
	h.metadata = true
	h.fs = &session.FileStorage{
		PieceLength: 1024,
		NumPieces:   100,
		Files: []session.FileInfo{
			{Index: 0, Path: "Show/movie.mkv", Size: 50_000, Offset: 2500},
			{Index: 1, Path: "Show/movie.srt", Size: 100, Offset: 52_500},
		},
	}
	s.handles[hash] = h
	return h
}

func TestStartTorrentInvalidHash(t *testing.T) {
	e := testEngine(t, newFakeSession())

	_, err := e.StartTorrent("nothex", -1, -1, -1)
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = e.StartTorrent("abcdef", -1, -1, -1)
	assert.ErrorIs(t, err, ErrInvalidHash)
}

func TestStartTorrentLoading(t *testing.T) {
	s := newFakeSession()
	e := testEngine(t, s)

	snap, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	assert.Equal(t, StatusLoading, snap.Status)
	assert.False(t, snap.MetadataReady)

	h := s.handles[testHash]
	require.NotNil(t, h)
	assert.DirExists(t, h.saveDir)
	assert.Contains(t, h.saveDir, testHash[:20])
}

func TestStartTorrentUppercaseHashNormalized(t *testing.T) {
	s := newFakeSession()
	e := testEngine(t, s)

	_, err := e.StartTorrent("0123456789ABCDEF0123456789ABCDEF01234567", -1, -1, -1)
	require.NoError(t, err)

	_, ok := e.GetState(testHash)
	assert.True(t, ok)
}

func TestStartTorrentCachedMetadataSelectsSynchronously(t *testing.T) {
	s := newFakeSession()
	h := metadataHandle(s, testHash)
	e := testEngine(t, s)

	snap, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	assert.Equal(t, StatusReady, snap.Status)
	assert.True(t, snap.MetadataReady)
	assert.Equal(t, 0, snap.FileIndex)
	assert.Equal(t, "movie.mkv", snap.FileName)
	assert.Equal(t, int64(50_000), snap.FileSize)
	assert.Equal(t, 2, snap.TotalFiles)

	assert.Equal(t, 0, h.selected)
}

func TestPieceRangeMath(t *testing.T) {
	s := newFakeSession()
	h := metadataHandle(s, testHash)
	e := testEngine(t, s)

	snap, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	// offset 2500, size 50000, piece length 1024
	assert.Equal(t, 2, snap.FirstPiece)
	assert.Equal(t, 51, snap.LastPiece) // floor((2500+50000-1)/1024)
	assert.Equal(t, 2, h.seqFirst)
	assert.Equal(t, 51, h.seqLast)
}

func TestDeadlineBoost(t *testing.T) {
	s := newFakeSession()
	h := metadataHandle(s, testHash)
	e := testEngine(t, s)

	_, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	// 50 pieces in range, capped at 40 boosts
	assert.Len(t, h.deadlines, 40)
	assert.Equal(t, 300*time.Millisecond, h.deadlines[2])
	assert.Equal(t, 420*time.Millisecond, h.deadlines[3])
	assert.Equal(t, time.Duration(300+39*120)*time.Millisecond, h.deadlines[41])
}

func TestMetadataEventTriggersSelection(t *testing.T) {
	s := newFakeSession()
	e := testEngine(t, s)

	_, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	h := s.handles[testHash]
	h.metadata = true
	h.fs = &session.FileStorage{
		PieceLength: 1024,
		NumPieces:   10,
		Files: []session.FileInfo{
			{Index: 0, Path: "movie.mkv", Size: 9000, Offset: 0},
		},
	}

	e.handleEvent(session.Event{Hash: testHash, Kind: session.EventMetadataReceived})

	snap, ok := e.GetState(testHash)
	require.True(t, ok)
	assert.Equal(t, StatusReady, snap.Status)
	assert.Equal(t, "movie.mkv", snap.FileName)

	// a second metadata event must not re-run selection
	h.selected = -1
	e.handleEvent(session.Event{Hash: testHash, Kind: session.EventMetadataReceived})
	assert.Equal(t, -1, h.selected)
}

func TestErrorEvent(t *testing.T) {
	s := newFakeSession()
	e := testEngine(t, s)

	_, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	e.handleEvent(session.Event{Hash: testHash, Kind: session.EventError, Err: os.ErrClosed})

	snap, ok := e.GetState(testHash)
	require.True(t, ok)
	assert.Equal(t, StatusError, snap.Status)
}

func TestEpisodeReselect(t *testing.T) {
	s := newFakeSession()
	h := newFakeHandle()
	h.metadata = true
	h.fs = &session.FileStorage{
		PieceLength: 1024,
		NumPieces:   100,
		Files: []session.FileInfo{
			{Index: 0, Path: "Show/Show.S01E01.mkv", Size: 10_000, Offset: 0},
			{Index: 1, Path: "Show/Show.S01E02.mkv", Size: 10_000, Offset: 10_000},
		},
	}
	s.handles[testHash] = h
	e := testEngine(t, s)

	snap, err := e.StartTorrent(testHash, -1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.FileIndex)

	snap, err = e.StartTorrent(testHash, -1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.FileIndex)
	assert.Equal(t, "Show.S01E02.mkv", snap.FileName)

	// same episode again is a no-op
	h.selected = -1
	snap, err = e.StartTorrent(testHash, -1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.FileIndex)
	assert.Equal(t, -1, h.selected)
}

func TestPauseResume(t *testing.T) {
	s := newFakeSession()
	metadataHandle(s, testHash)
	e := testEngine(t, s)

	_, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	e.PauseTorrent(testHash)
	snap, _ := e.GetState(testHash)
	assert.Equal(t, StatusPaused, snap.Status)

	e.ResumeTorrent(testHash)
	snap, _ = e.GetState(testHash)
	assert.Equal(t, StatusReady, snap.Status)
}

func TestMeteredMode(t *testing.T) {
	s := newFakeSession()
	metadataHandle(s, testHash)
	e := testEngine(t, s)

	_, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	e.SetMeteredMode(true)
	assert.True(t, e.Metered())
	snap, _ := e.GetState(testHash)
	assert.Equal(t, StatusPaused, snap.Status)

	// resume is ignored while metered
	e.ResumeTorrent(testHash)
	snap, _ = e.GetState(testHash)
	assert.Equal(t, StatusPaused, snap.Status)

	e.SetMeteredMode(false)
	snap, _ = e.GetState(testHash)
	assert.Equal(t, StatusReady, snap.Status)
}

func TestMeteredKeepsUserPaused(t *testing.T) {
	s := newFakeSession()
	metadataHandle(s, testHash)
	e := testEngine(t, s)

	_, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	e.PauseTorrent(testHash)
	e.SetMeteredMode(true)
	e.SetMeteredMode(false)

	snap, _ := e.GetState(testHash)
	assert.Equal(t, StatusPaused, snap.Status)
}

func TestStartWhileMetered(t *testing.T) {
	s := newFakeSession()
	e := testEngine(t, s)
	e.SetMeteredMode(true)

	snap, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, snap.Status)
	assert.Equal(t, 1, s.handles[testHash].pauses)
}

func TestRemoveTorrent(t *testing.T) {
	s := newFakeSession()
	e := testEngine(t, s)

	_, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	saveDir := s.handles[testHash].saveDir
	require.DirExists(t, saveDir)

	e.RemoveTorrent(testHash)

	_, ok := e.GetState(testHash)
	assert.False(t, ok)
	assert.Contains(t, s.removed, testHash)
	assert.NoDirExists(t, saveDir)

	// silent on unknown hash
	e.RemoveTorrent(testHash)
}

func TestCleanupIdle(t *testing.T) {
	s := newFakeSession()
	e := testEngine(t, s)

	_, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	e.CleanupIdle(time.Hour)
	_, ok := e.GetState(testHash)
	assert.True(t, ok)

	e.mu.Lock()
	e.torrents[testHash].lastAccessed = time.Now().Add(-2 * time.Hour)
	e.mu.Unlock()

	e.CleanupIdle(time.Hour)
	_, ok = e.GetState(testHash)
	assert.False(t, ok)
}

func TestStreamSourceErrors(t *testing.T) {
	s := newFakeSession()
	e := testEngine(t, s)

	_, err := e.StreamSource(testHash)
	assert.ErrorIs(t, err, ErrUnknownTorrent)

	_, err = e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	_, err = e.StreamSource(testHash)
	assert.ErrorIs(t, err, ErrNotReady)

	e.handleEvent(session.Event{Hash: testHash, Kind: session.EventError, Err: os.ErrClosed})
	_, err = e.StreamSource(testHash)
	assert.ErrorIs(t, err, ErrTorrentError)
}

func TestStreamSource(t *testing.T) {
	s := newFakeSession()
	metadataHandle(s, testHash)
	e := testEngine(t, s)

	_, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	src, err := e.StreamSource(testHash)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), src.FileOffset)
	assert.Equal(t, int64(1024), src.PieceLength)
	assert.Equal(t, int64(50_000), src.FileSize)
	assert.Contains(t, src.DiskPath, "movie.mkv")
}

func TestStatusProgress(t *testing.T) {
	s := newFakeSession()
	h := metadataHandle(s, testHash)
	h.completed[0] = 25_000
	e := testEngine(t, s)

	_, err := e.StartTorrent(testHash, -1, -1, -1)
	require.NoError(t, err)

	st, ok := e.Status(testHash)
	require.True(t, ok)
	assert.InDelta(t, 0.5, st.Progress, 0.001)
}
