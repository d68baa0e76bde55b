// Package cache persists extracted face embeddings between runs. Entries are
// keyed by a file's content signature (see utils.GenerateFileID), so an image
// that has not changed since the last run never goes back through the Python
// worker.
package cache

import (
	"errors"
	"log"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andresmejia3/facesort/internal/types"
)

// Options configures the cache backend.
type Options struct {
	// Dir is the directory for the badger data files.
	// Required unless InMemory is set.
	Dir string

	// InMemory runs badger without disk persistence. Useful for testing
	// against the real engine.
	InMemory bool
}

// Cache is an embedding cache backed by BadgerDB v4. Values are
// msgpack-encoded face lists; an image with zero faces is cached too, so the
// worker is not re-asked about face-free images.
type Cache struct {
	db *badger.DB
}

// Open opens (or creates) the cache at opts.Dir.
func Open(opts Options) (*Cache, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("cache: Options.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(quietLogger{})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Get returns the cached faces for fileID. The second return value reports
// whether an entry exists; a present entry with no faces means the image was
// processed before and contained none.
func (c *Cache) Get(fileID string) ([]types.FaceResult, bool, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fileID))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var faces []types.FaceResult
	if err := msgpack.Unmarshal(raw, &faces); err != nil {
		return nil, false, err
	}
	return faces, true, nil
}

// Put stores the faces extracted from the file identified by fileID.
func (c *Cache) Put(fileID string, faces []types.FaceResult) error {
	raw, err := msgpack.Marshal(faces)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fileID), raw)
	})
}

// Wipe drops every cached entry.
func (c *Cache) Wipe() error {
	return c.db.DropAll()
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// quietLogger keeps badger's error and warning output on the standard logger
// while dropping its chatty info and debug messages.
type quietLogger struct{}

func (quietLogger) Errorf(f string, v ...interface{})   { log.Printf("[cache] ERROR: "+f, v...) }
func (quietLogger) Warningf(f string, v ...interface{}) { log.Printf("[cache] WARN: "+f, v...) }
func (quietLogger) Infof(string, ...interface{})        {}
func (quietLogger) Debugf(string, ...interface{})       {}
