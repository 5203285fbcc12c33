package session

import (
	"sync"
	"time"

	"github.com/anacrolix/torrent"
)

// Sampling two status calls closer together than this returns the cached
// rate instead of a noisy near-zero delta.
const statsGap = 300 * time.Millisecond

// FileInfo describes one file inside a torrent. Path is slash separated and
// relative to the save directory, matching the on-disk layout of the file
// storage backend.
type FileInfo struct {
	Index  int
	Path   string
	Size   int64
	Offset int64
}

type FileStorage struct {
	Files       []FileInfo
	PieceLength int64
	NumPieces   int
}

type LiveStatus struct {
	Peers          int
	Seeders        int
	DownloadRate   float64 // bytes per second
	BytesCompleted int64
	Length         int64
	HasMetadata    bool
}

// Handle is the per-torrent operation surface handed to the engine.
type Handle interface {
	Hash() string
	Name() string
	SaveDir() string
	HasMetadata() bool
	FileStorage() (*FileStorage, bool)
	SelectFile(idx int)
	SetSequentialRange(first, last int)
	SetPieceDeadline(piece int, deadline time.Duration)
	HavePiece(piece int) bool
	FileBytesCompleted(idx int) int64
	Pause()
	Resume()
	ForceReannounce()
	Status() LiveStatus
}

var _ Handle = &torrentHandle{}

type torrentHandle struct {
	s        *Session
	t        *torrent.Torrent
	hash     string
	saveDir  string
	announce [][]string

	stop     chan struct{}
	stopOnce sync.Once

	statsMu   sync.Mutex
	prevRead  int64
	prevTime  time.Time
	prevRate  float64
	prevPeers int
	prevSeeds int
}

func newHandle(s *Session, t *torrent.Torrent, hash, saveDir string, trackers []string) *torrentHandle {
	return &torrentHandle{
		s:        s,
		t:        t,
		hash:     hash,
		saveDir:  saveDir,
		announce: [][]string{trackers},
		stop:     make(chan struct{}),
	}
}

// watch turns library state changes into typed events: metadata arrival
// once, then full completion once.
func (h *torrentHandle) watch() {
	select {
	case <-h.t.GotInfo():
		h.s.emit(Event{Hash: h.hash, Kind: EventMetadataReceived})
	case <-h.stop:
		return
	case <-h.s.closed:
		return
	}

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			if h.t.BytesMissing() == 0 {
				h.s.emit(Event{Hash: h.hash, Kind: EventFinished})
				return
			}
		case <-h.stop:
			return
		case <-h.s.closed:
			return
		}
	}
}

func (h *torrentHandle) stopWatch() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *torrentHandle) Hash() string {
	return h.hash
}

func (h *torrentHandle) Name() string {
	return h.t.Name()
}

func (h *torrentHandle) SaveDir() string {
	return h.saveDir
}

func (h *torrentHandle) HasMetadata() bool {
	return h.t.Info() != nil
}

func (h *torrentHandle) FileStorage() (*FileStorage, bool) {
	info := h.t.Info()
	if info == nil {
		return nil, false
	}

	out := &FileStorage{
		PieceLength: info.PieceLength,
		NumPieces:   h.t.NumPieces(),
	}
	for i, f := range h.t.Files() {
		out.Files = append(out.Files, FileInfo{
			Index:  i,
			Path:   f.Path(),
			Size:   f.Length(),
			Offset: f.Offset(),
		})
	}
	return out, true
}

// SelectFile downloads only the file at idx, ignoring every other file.
func (h *torrentHandle) SelectFile(idx int) {
	for i, f := range h.t.Files() {
		if i == idx {
			f.SetPriority(torrent.PiecePriorityNormal)
		} else {
			f.SetPriority(torrent.PiecePriorityNone)
		}
	}
}

func (h *torrentHandle) SetSequentialRange(first, last int) {
	if first < 0 {
		first = 0
	}
	if last >= h.t.NumPieces() {
		last = h.t.NumPieces() - 1
	}
	if first > last {
		return
	}
	h.t.DownloadPieces(first, last+1)
}

// SetPieceDeadline maps the requested deadline onto a priority tier. The
// library has no true per-piece deadlines, so tighter deadlines get hotter
// priorities instead.
func (h *torrentHandle) SetPieceDeadline(piece int, deadline time.Duration) {
	if piece < 0 || piece >= h.t.NumPieces() {
		return
	}

	p := torrent.PiecePriorityReadahead
	switch {
	case deadline <= 500*time.Millisecond:
		p = torrent.PiecePriorityNow
	case deadline <= 2*time.Second:
		p = torrent.PiecePriorityHigh
	}
	h.t.Piece(piece).SetPriority(p)
}

func (h *torrentHandle) HavePiece(piece int) bool {
	if piece < 0 || piece >= h.t.NumPieces() {
		return false
	}
	return h.t.PieceState(piece).Complete
}

func (h *torrentHandle) FileBytesCompleted(idx int) int64 {
	files := h.t.Files()
	if idx < 0 || idx >= len(files) {
		return 0
	}
	return files[idx].BytesCompleted()
}

func (h *torrentHandle) Pause() {
	h.t.DisallowDataDownload()
}

func (h *torrentHandle) Resume() {
	h.t.AllowDataDownload()
}

// ForceReannounce re-adds the announce list, which triggers a fresh round
// of tracker announces. The closest public knob the library offers.
func (h *torrentHandle) ForceReannounce() {
	h.t.AddTrackers(h.announce)
}

func (h *torrentHandle) Status() LiveStatus {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()

	ls := LiveStatus{
		HasMetadata:    h.t.Info() != nil,
		BytesCompleted: h.t.BytesCompleted(),
	}
	if ls.HasMetadata {
		ls.Length = h.t.Length()
	}

	now := time.Now()
	if now.Sub(h.prevTime) < statsGap {
		ls.DownloadRate = h.prevRate
		ls.Peers = h.prevPeers
		ls.Seeders = h.prevSeeds
		return ls
	}

	st := h.t.Stats()
	rd := st.BytesReadData.Int64()
	if !h.prevTime.IsZero() {
		if elapsed := now.Sub(h.prevTime).Seconds(); elapsed > 0 {
			h.prevRate = float64(rd-h.prevRead) / elapsed
		}
	}
	h.prevRead = rd
	h.prevTime = now
	h.prevPeers = st.TotalPeers
	h.prevSeeds = st.ConnectedSeeders

	ls.DownloadRate = h.prevRate
	ls.Peers = h.prevPeers
	ls.Seeders = h.prevSeeds
	return ls
}
