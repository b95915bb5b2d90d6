// Package checksumstore is the durable (device, inode, mtime) -> record
// cache described in spec.md §4.1, grounded on
// backend/cache/storage_persistent.go's bbolt-backed Persistent type.
package checksumstore

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/freezefs/freezefs/internal/checksum"
)

const recordsBucket = "records"

// Key identifies a content file by the three stat fields the filesystem
// guarantees stay stable across unrelated metadata changes.
type Key struct {
	Device uint64
	Inode  uint64
	Mtime  float64
}

// Record is what gets cached for a Key: the already-computed checksum and
// stripped metadata layout, so a restart need not re-parse the file.
type Record struct {
	Checksum    checksum.Checksum
	Layout      checksum.Layout
	StrippedLen int64
}

// Store is a durable key-value store backed by a single bbolt database
// file. Mutations are only ever issued from the initial scan and the
// watcher, both of which are already serialized by the index lock, so
// Store does no internal locking beyond what bbolt itself provides.
type Store struct {
	path string
	db   *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create checksum db directory for %q", path)
	}
	db, err := bolt.Open(path, 0o644, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checksum db %q", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recordsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to initialize checksum db bucket")
	}
	return &Store{path: path, db: db}, nil
}

// Get returns the record for (dev, ino, mtime) iff present and all three
// keys match exactly. Missing or mismatched keys return ok=false.
func (s *Store) Get(dev, ino uint64, mtime float64) (rec Record, ok bool) {
	key := encodeKey(Key{Device: dev, Inode: ino, Mtime: mtime})
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(recordsBucket))
		if b == nil {
			return nil
		}
		data := b.Get(key)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil
		}
		ok = true
		return nil
	})
	return rec, ok
}

// Put writes or overwrites the record for (dev, ino, mtime).
func (s *Store) Put(dev, ino uint64, mtime float64, rec Record) error {
	key := encodeKey(Key{Device: dev, Inode: ino, Mtime: mtime})
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal checksum record")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(recordsBucket))
		return b.Put(key, data)
	})
}

// Flush makes all prior writes durable by syncing the database file.
// bbolt's Update already fsyncs on commit, so this extra sync is kept for
// contract clarity and to give callers an explicit point to check for
// errors after a batch of Puts.
func (s *Store) Flush() error {
	return s.db.Sync()
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeKey(k Key) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint64(buf[0:8], k.Device)
	binary.BigEndian.PutUint64(buf[8:16], k.Inode)
	binary.BigEndian.PutUint64(buf[16:24], mtimeBits(k.Mtime))
	return buf
}

func mtimeBits(f float64) uint64 {
	return uint64(int64(f * 1e9))
}
