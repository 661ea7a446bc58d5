package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"trade-router-go/order"
)

const orderKeyPrefix = "order/"

// BadgerStore 基于 Badger 的订单存储，JSON 序列化，key 为 order/<id>。
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenOptions Badger 打开参数。
type OpenOptions struct {
	Dir      string
	InMemory bool
}

// OpenBadger 打开（或创建）订单库。
func OpenBadger(opts OpenOptions) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open order store: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

// NewBadgerStore 复用一个已打开的 DB（队列与存储共享进程内资源时使用）。
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, now: time.Now}
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func orderKey(id string) []byte {
	return []byte(orderKeyPrefix + id)
}

func (s *BadgerStore) Create(ctx context.Context, o *order.Order) error {
	now := s.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	return s.db.Update(func(txn *badger.Txn) error {
		key := orderKey(o.ID)
		_, err := txn.Get(key)
		if err == nil {
			return ErrExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check order %s: %w", o.ID, err)
		}
		raw, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode order %s: %w", o.ID, err)
		}
		return txn.Set(key, raw)
	})
}

func (s *BadgerStore) FindByID(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(orderKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("read order %s: %w", id, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &o)
		})
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *BadgerStore) Update(ctx context.Context, o *order.Order) error {
	o.UpdatedAt = s.now().UTC()
	return s.db.Update(func(txn *badger.Txn) error {
		key := orderKey(o.ID)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("check order %s: %w", o.ID, err)
		}
		raw, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode order %s: %w", o.ID, err)
		}
		return txn.Set(key, raw)
	})
}
