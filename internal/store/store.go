package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"trade-router-go/order"
)

var (
	// ErrNotFound 订单不存在。
	ErrNotFound = errors.New("order not found")
	// ErrExists 重复创建同一订单。
	ErrExists = errors.New("order already exists")
)

// Store 订单记录存储。核心只依赖这三个操作；删除属于外部管理操作，不在此接口内。
type Store interface {
	Create(ctx context.Context, o *order.Order) error
	FindByID(ctx context.Context, id string) (*order.Order, error)
	Update(ctx context.Context, o *order.Order) error
}

// MemoryStore 内存实现，测试与单机演示用。
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]order.Order
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]order.Order),
		now:    time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return ErrExists
	}
	now := s.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	s.orders[o.ID] = *o
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := o
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return ErrNotFound
	}
	o.UpdatedAt = s.now().UTC()
	s.orders[o.ID] = *o
	return nil
}
