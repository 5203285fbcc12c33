package session

import (
	"path"
	"strconv"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog/log"

	dlog "github.com/stremd/stremd/log"
)

var _ storage.PieceCompletion = &badgerPieceCompletion{}

// badgerPieceCompletion persists verified-piece flags so pieces already on
// disk are recognized after a restart instead of being downloaded again.
type badgerPieceCompletion struct {
	db *badger.DB
}

func NewPieceCompletion(dir string) (storage.PieceCompletion, error) {
	l := log.Logger.With().Str("component", "piece-completion").Logger()

	opts := badger.DefaultOptions(dir).
		WithLogger(&dlog.Badger{L: l}).
		WithValueLogFileSize(1<<26 - 1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	err = db.RunValueLogGC(0.5)
	if err != nil && err != badger.ErrNoRewrite {
		return nil, err
	}

	return &badgerPieceCompletion{db: db}, nil
}

func completionKey(pk metainfo.PieceKey) []byte {
	return []byte(path.Join(pk.InfoHash.HexString(), strconv.Itoa(pk.Index)))
}

func (c *badgerPieceCompletion) Get(pk metainfo.PieceKey) (storage.Completion, error) {
	cn := storage.Completion{}
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(completionKey(pk))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(v []byte) error {
			cn.Ok = true
			cn.Complete = len(v) == 1 && v[0] == 1
			return nil
		})
	})
	return cn, err
}

func (c *badgerPieceCompletion) Set(pk metainfo.PieceKey, complete bool) error {
	v := byte(0)
	if complete {
		v = 1
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(completionKey(pk), []byte{v})
	})
}

func (c *badgerPieceCompletion) Close() error {
	return c.db.Close()
}
