package session

import (
	"crypto/rand"
	"encoding/gob"
	"encoding/hex"
	"os"
	"time"

	"github.com/anacrolix/dht/v2/bep44"
	"github.com/anacrolix/missinggo/v2/filecache"
)

var _ bep44.Store = &FileItemStore{}

// FileItemStore keeps DHT BEP 44 items on disk so mutable-item lookups
// survive restarts.
type FileItemStore struct {
	ci  *filecache.Cache
	ttl time.Duration
}

func NewFileItemStore(path string, itemsTTL time.Duration) (*FileItemStore, error) {
	c, err := filecache.NewCache(path)
	if err != nil {
		return nil, err
	}

	return &FileItemStore{
		ci:  c,
		ttl: itemsTTL,
	}, nil
}

func (fis *FileItemStore) Put(i *bep44.Item) error {
	tb := i.Target()
	k := hex.EncodeToString(tb[:])
	f, err := fis.ci.OpenFile(k, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	defer f.Close()

	return gob.NewEncoder(f).Encode(i)
}

func (fis *FileItemStore) Get(t bep44.Target) (*bep44.Item, error) {
	k := hex.EncodeToString(t[:])
	f, err := fis.ci.OpenFile(k, os.O_RDONLY)
	if err != nil {
		return nil, bep44.ErrItemNotFound
	}
	defer f.Close()

	var i *bep44.Item
	if err := gob.NewDecoder(f).Decode(&i); err != nil {
		return nil, err
	}

	return i, nil
}

func (fis *FileItemStore) Del(t bep44.Target) error {
	// expiry is handled by the cache capacity, individual deletes are a no-op
	return nil
}

func (fis *FileItemStore) Close() error {
	fis.ci.Clear()
	return nil
}

// GetOrCreatePeerID keeps a stable peer ID across restarts so swarm
// reputations survive.
func GetOrCreatePeerID(p string) ([20]byte, error) {
	idb, err := os.ReadFile(p)
	if err == nil {
		var out [20]byte
		copy(out[:], idb)
		return out, nil
	}

	if !os.IsNotExist(err) {
		return [20]byte{}, err
	}

	var out [20]byte
	if _, err := rand.Read(out[:]); err != nil {
		return [20]byte{}, err
	}

	return out, os.WriteFile(p, out[:], 0755)
}
