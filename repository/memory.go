// Package repository 提供目录/评分/偏好数据的存储实现（core.Repository）。
//
// MemoryRepository 用于测试和单进程部署；Postgres 对接关系型数据库。
// 两者在 UpsertInteraction 后都会重算条目评分聚合与热度指数，
// 这部分属于存储侧协作方的职责，推荐核心本身只读这些字段。
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/feature"
)

type pairKey struct {
	user int64
	item int64
}

// MemoryRepository 是线程安全的内存实现。
type MemoryRepository struct {
	mu           sync.RWMutex
	items        map[int64]core.CatalogItem
	interactions map[pairKey]core.Interaction
	preferences  map[pairKey]float64
	browsing     map[pairKey]int
	favorites    map[pairKey]struct{}

	now func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items:        make(map[int64]core.CatalogItem),
		interactions: make(map[pairKey]core.Interaction),
		preferences:  make(map[pairKey]float64),
		browsing:     make(map[pairKey]int),
		favorites:    make(map[pairKey]struct{}),
		now:          time.Now,
	}
}

// PutItems 写入（覆盖）目录条目。
func (r *MemoryRepository) PutItems(items ...core.CatalogItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		r.items[it.ID] = it
	}
}

// PutInteractions 直接写入评分，不触发聚合重算，用于构造测试数据。
func (r *MemoryRepository) PutInteractions(in ...core.Interaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, x := range in {
		if x.Timestamp.IsZero() {
			x.Timestamp = r.now()
		}
		r.interactions[pairKey{x.UserID, x.ItemID}] = x
	}
}

// PutPreference 写入偏好值。
func (r *MemoryRepository) PutPreference(userID, itemID int64, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferences[pairKey{userID, itemID}] = value
}

// RecordBrowse 累加浏览次数。
func (r *MemoryRepository) RecordBrowse(userID, itemID int64, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.browsing[pairKey{userID, itemID}] += n
}

// MarkFavorite 标记收藏，影响偏好值。
func (r *MemoryRepository) MarkFavorite(userID, itemID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.favorites[pairKey{userID, itemID}] = struct{}{}
}

func (r *MemoryRepository) GetItem(ctx context.Context, id int64) (core.CatalogItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return core.CatalogItem{}, core.ErrItemNotFound
	}
	return it, nil
}

func (r *MemoryRepository) ListItems(ctx context.Context, filter core.ItemFilter) ([]core.CatalogItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.CatalogItem, 0, len(r.items))
	for _, it := range r.items {
		if filter != nil && !filter(it) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

func (r *MemoryRepository) ListInteractions(ctx context.Context, userID *int64) ([]core.Interaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Interaction, 0)
	for k, in := range r.interactions {
		if userID != nil && k.user != *userID {
			continue
		}
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

// UpsertInteraction 写入评分并重算条目聚合、偏好值和热度。
func (r *MemoryRepository) UpsertInteraction(ctx context.Context, userID, itemID int64, rating float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[itemID]
	if !ok {
		return fmt.Errorf("upsert interaction item %d: %w", itemID, core.ErrItemNotFound)
	}
	key := pairKey{userID, itemID}
	r.interactions[key] = core.Interaction{UserID: userID, ItemID: itemID, Rating: rating, Timestamp: r.now()}

	var sum float64
	var n int
	for k, in := range r.interactions {
		if k.item == itemID {
			sum += in.Rating
			n++
		}
	}
	item.RatingCount = n
	item.RatingAvg = sum / float64(n)
	r.items[itemID] = item

	_, fav := r.favorites[key]
	r.preferences[key] = feature.PreferenceValue(rating, fav, r.browsing[key])

	all := make([]core.CatalogItem, 0, len(r.items))
	for _, it := range r.items {
		all = append(all, it)
	}
	item.Popularity = feature.PopularityIndex(item, feature.ScanCatalogMax(all))
	r.items[itemID] = item
	return nil
}

func (r *MemoryRepository) ListPreferences(ctx context.Context, userID int64) ([]core.Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Preference, 0)
	for k, v := range r.preferences {
		if k.user == userID {
			out = append(out, core.Preference{UserID: userID, ItemID: k.item, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

func (r *MemoryRepository) ListBrowsing(ctx context.Context, userID int64) ([]core.Browse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Browse, 0)
	for k, c := range r.browsing {
		if k.user == userID {
			out = append(out, core.Browse{UserID: userID, ItemID: k.item, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ItemID < out[j].ItemID
	})
	return out, nil
}

var _ core.Repository = (*MemoryRepository)(nil)
