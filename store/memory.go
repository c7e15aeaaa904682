package store

import (
	"context"
	"sync"
	"time"

	"github.com/rushteam/animerec/core"
)

// MemoryStore 是内存实现的 Store，用于测试/开发/单进程部署。
// 支持 TTL（过期时间），但进程重启后数据丢失。
type MemoryStore struct {
	mu        sync.RWMutex
	data      map[string]*entry
	done      chan struct{}
	closeOnce sync.Once

	// now 可在测试中替换，用于模拟过期
	now func() time.Time
}

type entry struct {
	value  []byte
	expire *time.Time
}

func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		data: make(map[string]*entry),
		done: make(chan struct{}),
		now:  time.Now,
	}
	go ms.cleanup(time.NewTicker(10*time.Second), ms.done)
	return ms
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok {
		return nil, core.ErrStoreNotFound
	}
	if e.expire != nil && m.now().After(*e.expire) {
		return nil, core.ErrStoreNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(value))
	copy(buf, value)
	e := &entry{value: buf}
	if len(ttl) > 0 && ttl[0] > 0 {
		expire := m.now().Add(time.Duration(ttl[0]) * time.Second)
		e.expire = &expire
	}
	m.data[key] = e
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Len 返回当前未过期的 key 数量（用于测试/观测）。
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	n := 0
	for _, e := range m.data {
		if e.expire == nil || !now.After(*e.expire) {
			n++
		}
	}
	return n
}

// Close 停止后台过期清理，可重复调用。
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// cleanup 只通过参数拿到 ticker 与 done，不读取可变字段。
func (m *MemoryStore) cleanup(ticker *time.Ticker, done <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			for k, e := range m.data {
				if e.expire != nil && now.After(*e.expire) {
					delete(m.data, k)
				}
			}
			m.mu.Unlock()
		case <-done:
			return
		}
	}
}

var _ core.Store = (*MemoryStore)(nil)
