package session

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/anacrolix/dht/v2"
	tlog "github.com/anacrolix/log"
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/stremd/stremd/config"
	dlog "github.com/stremd/stremd/log"
)

var ErrNotStarted = errors.New("session not started")

// Session owns the torrent client and forwards its alerts as typed events.
// All handle operations go through the Handle returned by AddMagnet.
type Session struct {
	cfg *config.TorrentGlobal
	pc  storage.PieceCompletion
	fis *FileItemStore
	id  [20]byte

	mu      sync.Mutex
	c       *torrent.Client
	dl      *rate.Limiter
	ul      *rate.Limiter
	handles map[string]*torrentHandle
	events  chan Event
	closed  chan struct{}

	log zerolog.Logger
}

func New(cfg *config.TorrentGlobal, pc storage.PieceCompletion, fis *FileItemStore, id [20]byte) *Session {
	return &Session{
		cfg: cfg,
		pc:  pc,
		fis: fis,
		id:  id,
		log: log.Logger.With().Str("component", "session").Logger(),
	}
}

// Start builds the torrent client. Idempotent.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c != nil {
		return nil
	}

	torrentCfg := torrent.NewDefaultClientConfig()
	torrentCfg.Seed = true
	torrentCfg.PeerID = string(s.id[:])
	torrentCfg.DefaultStorage = storage.NewFileWithCompletion(s.cfg.DownloadsFolder, s.pc)
	if s.cfg.ListenPort > 0 {
		torrentCfg.ListenPort = s.cfg.ListenPort
	}
	torrentCfg.DisableIPv6 = s.cfg.DisableIPv6
	torrentCfg.DisableTCP = s.cfg.DisableTCP
	torrentCfg.DisableUTP = s.cfg.DisableUTP

	if s.cfg.IP != "" {
		ip := net.ParseIP(s.cfg.IP)
		if ip == nil {
			return fmt.Errorf("invalid provided IP: %q", s.cfg.IP)
		}

		torrentCfg.PublicIp4 = ip
	}

	tl := tlog.NewLogger()
	tl.SetHandlers(&dlog.Torrent{L: log.Logger.With().Str("component", "torrent-client").Logger()})
	torrentCfg.Logger = tl

	torrentCfg.ConfigureAnacrolixDhtServer = func(cfg *dht.ServerConfig) {
		cfg.Store = s.fis
		cfg.Exp = 2 * time.Hour
		cfg.NoSecurity = false
	}

	// Unlimited by default, adjustable at runtime through SetLimits.
	s.dl = rate.NewLimiter(rate.Inf, 0)
	s.ul = rate.NewLimiter(rate.Inf, 0)
	torrentCfg.DownloadRateLimiter = s.dl
	torrentCfg.UploadRateLimiter = s.ul

	c, err := torrent.NewClient(torrentCfg)
	if err != nil {
		return fmt.Errorf("error starting torrent client: %w", err)
	}

	s.c = c
	s.handles = make(map[string]*torrentHandle)
	s.events = make(chan Event, 64)
	s.closed = make(chan struct{})
	return nil
}

// Stop closes the client and stops all per-torrent watchers. The events
// channel is left open so a racing watcher can never panic on send.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c == nil {
		return
	}

	close(s.closed)
	for _, h := range s.handles {
		h.stopWatch()
	}
	s.handles = nil

	for _, err := range s.c.Close() {
		s.log.Warn().Err(err).Msg("problem closing torrent client")
	}
	s.c = nil
}

// AddMagnet attaches a torrent built from the hex info-hash and tracker
// list, storing its data under saveDir. Returns the existing handle if the
// torrent is already attached.
func (s *Session) AddMagnet(hash string, trackers []string, saveDir string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c == nil {
		return nil, ErrNotStarted
	}

	if h, ok := s.handles[hash]; ok {
		return h, nil
	}

	spec, err := torrent.TorrentSpecFromMagnetUri(BuildMagnet(hash, trackers))
	if err != nil {
		return nil, fmt.Errorf("error parsing magnet: %w", err)
	}

	spec.Storage = storage.NewFileWithCompletion(saveDir, s.pc)

	t, _, err := s.c.AddTorrentSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("error adding torrent: %w", err)
	}

	h := newHandle(s, t, hash, saveDir, trackers)
	s.handles[hash] = h

	t.SetOnWriteChunkError(func(err error) {
		s.emit(Event{Hash: hash, Kind: EventError, Err: err})
	})

	go h.watch()

	s.log.Info().Str("hash", hash).Msg("torrent added")
	return h, nil
}

// Find returns the live handle for a hash, if attached.
func (s *Session) Find(hash string) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[hash]
	if !ok {
		return nil, false
	}
	return h, true
}

// Remove drops the torrent from the client. Data on disk is not touched;
// the engine owns save-directory deletion.
func (s *Session) Remove(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[hash]
	if !ok {
		return
	}

	h.stopWatch()
	h.t.Drop()
	delete(s.handles, hash)
	s.log.Info().Str("hash", hash).Msg("torrent dropped")
}

// Events returns the alert channel consumed by the engine pump.
func (s *Session) Events() <-chan Event {
	return s.events
}

// SetLimits applies download and upload caps in Mbit/s. Zero or negative
// means unlimited.
func (s *Session) SetLimits(dlMbit, ulMbit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := func(l *rate.Limiter, mbit float64) {
		if l == nil {
			return
		}
		if mbit <= 0 {
			l.SetLimit(rate.Inf)
			return
		}
		bps := rate.Limit(mbit * 125_000) // bytes per second
		l.SetLimit(bps)
		l.SetBurst(int(bps))
	}
	set(s.dl, dlMbit)
	set(s.ul, ulMbit)
}

func (s *Session) emit(ev Event) {
	select {
	case <-s.closed:
		return
	default:
	}

	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("hash", ev.Hash).Str("kind", ev.Kind.String()).Msg("event channel full, dropping event")
	}
}
