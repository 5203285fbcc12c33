package engine

import (
	"time"

	"github.com/stremd/stremd/session"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusLoading    Status = "loading"
	StatusReady      Status = "ready"
	StatusPaused     Status = "paused"
	StatusError      Status = "error"
)

// Torrent is the engine-side state machine entry for one info-hash.
// Mutated only under the engine lock.
type Torrent struct {
	hash   string
	handle session.Handle

	status        Status
	metadataReady bool

	selectedIndex int
	selectedName  string
	selectedSize  int64
	diskPath      string
	totalFiles    int

	requestedIndex   int
	requestedSeason  int
	requestedEpisode int

	fileOffset  int64
	pieceLength int64
	firstPiece  int
	lastPiece   int

	saveDir      string
	lastAccessed time.Time

	userPaused bool
	prevStatus Status
}

// Snapshot is a copy of torrent state safe to read outside the engine lock.
type Snapshot struct {
	Hash          string
	Status        Status
	MetadataReady bool

	FileIndex int
	FileName  string
	FileSize  int64
	DiskPath  string

	TotalFiles  int
	FileOffset  int64
	PieceLength int64
	FirstPiece  int
	LastPiece   int

	RequestedIndex   int
	RequestedSeason  int
	RequestedEpisode int
}

func (t *Torrent) snapshot() Snapshot {
	return Snapshot{
		Hash:          t.hash,
		Status:        t.status,
		MetadataReady: t.metadataReady,

		FileIndex: t.selectedIndex,
		FileName:  t.selectedName,
		FileSize:  t.selectedSize,
		DiskPath:  t.diskPath,

		TotalFiles:  t.totalFiles,
		FileOffset:  t.fileOffset,
		PieceLength: t.pieceLength,
		FirstPiece:  t.firstPiece,
		LastPiece:   t.lastPiece,

		RequestedIndex:   t.requestedIndex,
		RequestedSeason:  t.requestedSeason,
		RequestedEpisode: t.requestedEpisode,
	}
}
