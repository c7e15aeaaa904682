package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/rushteam/animerec/core"
)

const blobKeyPrefix = "blob:"

// BadgerBlobStore 使用 BadgerDB 持久化模型 blob。
// 每次 Save 是单个事务，读事务看到的要么是旧 blob 要么是新 blob。
type BadgerBlobStore struct {
	db *badger.DB
}

// OpenBadgerBlobStore 打开（或创建）dir 下的 BadgerDB。
func OpenBadgerBlobStore(dir string) (*BadgerBlobStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerBlobStore{db: db}, nil
}

// NewBadgerBlobStore 使用已打开的 DB。
func NewBadgerBlobStore(db *badger.DB) *BadgerBlobStore {
	return &BadgerBlobStore{db: db}
}

func (s *BadgerBlobStore) Save(ctx context.Context, name string, blob []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(blobKeyPrefix+name), blob); err != nil {
			return fmt.Errorf("set blob: %w", err)
		}
		return nil
	})
}

func (s *BadgerBlobStore) Load(ctx context.Context, name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blobKeyPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return core.ErrBlobNotFound
		}
		if err != nil {
			return fmt.Errorf("get blob: %w", err)
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerBlobStore) Close() error {
	return s.db.Close()
}

var _ core.BlobStore = (*BadgerBlobStore)(nil)
