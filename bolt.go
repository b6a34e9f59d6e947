package rkv

import (
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/atomic"

	"rkv/utils/log"
)

var boltBucket = []byte("rkv")

// BoltStore keeps pairs in a single bbolt bucket. Clones share the
// database handle, which is closed by the last Shutdown.
type BoltStore struct {
	db       *bolt.DB
	refCount *atomic.Int32
	closed   atomic.Bool
}

var _ KvsEngine = (*BoltStore)(nil)

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string) (*BoltStore, error) {
	log.Infof("bolt store path: %s", path)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, refCount: atomic.NewInt32(1)}, nil
}

func (s *BoltStore) Set(key string, value string) error {
	if s.closed.Load() {
		return ErrShutdown
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), []byte(value))
	})
}

func (s *BoltStore) Get(key string) (value string, found bool, err error) {
	if s.closed.Load() {
		return "", false, ErrShutdown
	}
	err = s.db.View(func(tx *bolt.Tx) error {
		// the returned slice is only valid inside the transaction
		if v := tx.Bucket(boltBucket).Get([]byte(key)); v != nil {
			value, found = string(v), true
		}
		return nil
	})
	return value, found, err
}

func (s *BoltStore) Remove(key string) (existed bool, err error) {
	if s.closed.Load() {
		return false, ErrShutdown
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b.Get([]byte(key)) == nil {
			return nil
		}
		existed = true
		return b.Delete([]byte(key))
	})
	return existed, err
}

func (s *BoltStore) Keys() ([]string, error) {
	if s.closed.Load() {
		return nil, ErrShutdown
	}
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func (s *BoltStore) Clone() KvsEngine {
	s.refCount.Inc()
	return &BoltStore{db: s.db, refCount: s.refCount}
}

func (s *BoltStore) Shutdown() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	if s.refCount.Dec() == 0 {
		log.Debugf("closing bolt store %s", s.db.Path())
		return s.db.Close()
	}
	return nil
}
