package stream

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrPieceTimeout means the piece wait budget elapsed with the piece
	// still missing from the swarm.
	ErrPieceTimeout = errors.New("timed out waiting for piece")
	// ErrNotOnDisk means the selected file has not been created yet.
	ErrNotOnDisk = errors.New("selected file not on disk")
	// ErrClosed means the consumer closed the stream mid-wait.
	ErrClosed = errors.New("stream closed")
)

// Backend is what the reader needs from the engine for one torrent.
type Backend interface {
	StreamSource(hash string) (Source, error)
	HavePiece(hash string, piece int) bool
	SetPieceDeadline(hash string, piece int, deadline time.Duration)
	Reannounce(hash string)
}

// Source locates the selected file on disk and within the torrent piece
// space.
type Source struct {
	DiskPath    string
	FileOffset  int64
	PieceLength int64
	FileSize    int64
}

// Pieces ahead of a missing one that get pre-warm deadlines, so sequential
// playback keeps a hot horizon.
const readahead = 12

// Handle is a byte cursor over [start, end] of the selected file that
// blocks reads on pieces not yet locally available.
type Handle struct {
	b    Backend
	hash string
	src  Source
	f    *os.File

	pos   int64
	start int64
	end   int64

	done      chan struct{}
	closeOnce sync.Once

	pollInterval    time.Duration
	pieceTimeout    time.Duration
	reannounceEvery time.Duration

	log zerolog.Logger
}

var _ io.ReadCloser = &Handle{}

// Open builds a reader over bytes [start, end] of the torrent's selected
// file. The range must already be clamped by the caller.
func Open(b Backend, hash string, start, end int64, pieceTimeout time.Duration) (*Handle, error) {
	src, err := b.StreamSource(hash)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(src.DiskPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotOnDisk
		}
		return nil, fmt.Errorf("error opening backing file: %w", err)
	}

	return &Handle{
		b:    b,
		hash: hash,
		src:  src,
		f:    f,

		pos:   start,
		start: start,
		end:   end,

		done: make(chan struct{}),

		pollInterval:    500 * time.Millisecond,
		pieceTimeout:    pieceTimeout,
		reannounceEvery: 5 * time.Second,

		log: log.Logger.With().Str("component", "stream").Str("hash", hash).Logger(),
	}, nil
}

func (h *Handle) FileSize() int64 {
	return h.src.FileSize
}

func (h *Handle) ContentLength() int64 {
	return h.end - h.start + 1
}

func (h *Handle) Read(p []byte) (int, error) {
	if h.pos > h.end {
		return 0, io.EOF
	}

	absolute := h.src.FileOffset + h.pos
	piece := int(absolute / h.src.PieceLength)
	if !h.b.HavePiece(h.hash, piece) {
		if err := h.ensurePiece(piece); err != nil {
			return 0, err
		}
	}

	if limit := h.end - h.pos + 1; int64(len(p)) > limit {
		p = p[:limit]
	}
	// Never read past the current piece: the bytes behind it may not have
	// been verified yet.
	pieceEnd := (int64(piece)+1)*h.src.PieceLength - 1 - h.src.FileOffset
	if limit := pieceEnd - h.pos + 1; int64(len(p)) > limit {
		p = p[:limit]
	}

	n, err := h.f.ReadAt(p, h.pos)
	h.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// ensurePiece waits for one piece to become locally available, pre-warming
// the pieces right behind it and reannouncing while the swarm stays quiet.
func (h *Handle) ensurePiece(piece int) error {
	for i := 0; i <= readahead; i++ {
		h.b.SetPieceDeadline(h.hash, piece+i, time.Duration(1000+250*i)*time.Millisecond)
	}

	deadline := time.Now().Add(h.pieceTimeout)
	lastAnnounce := time.Now()

	for {
		if h.b.HavePiece(h.hash, piece) {
			return nil
		}
		if time.Now().After(deadline) {
			h.log.Warn().Int("piece", piece).Msg("piece wait timed out")
			return ErrPieceTimeout
		}
		if time.Since(lastAnnounce) >= h.reannounceEvery {
			h.b.Reannounce(h.hash)
			lastAnnounce = time.Now()
		}

		select {
		case <-h.done:
			return ErrClosed
		case <-time.After(h.pollInterval):
		}
	}
}

// Close releases the backing descriptor and unblocks any in-flight piece
// wait.
func (h *Handle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)
		err = h.f.Close()
	})
	return err
}
