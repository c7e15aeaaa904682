// Package mapping 维护外部参考数据集与本地目录之间的条目 ID 映射。
//
// IDMapping 构建后不可变：离线批量构建、原子加载，服务期间只读。
package mapping

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"
)

// Pair 是一条 外部ID ↔ 本地ID 映射。
type Pair struct {
	External int64 `json:"external"`
	Local    int64 `json:"local"`
}

// IDMapping 是部分双射：每个外部 ID 至多对应一个本地 ID，反之亦然。
// 未映射的 ID 直接缺席，不是错误。
type IDMapping struct {
	toLocal    map[int64]int64
	toExternal map[int64]int64
}

// Empty 返回空映射。
func Empty() *IDMapping {
	return &IDMapping{toLocal: map[int64]int64{}, toExternal: map[int64]int64{}}
}

// New 从映射对构造 IDMapping，违反一对一约束时返回错误。
func New(pairs []Pair) (*IDMapping, error) {
	m := &IDMapping{
		toLocal:    make(map[int64]int64, len(pairs)),
		toExternal: make(map[int64]int64, len(pairs)),
	}
	for _, p := range pairs {
		if l, ok := m.toLocal[p.External]; ok {
			return nil, fmt.Errorf("external id %d mapped twice (%d, %d)", p.External, l, p.Local)
		}
		if e, ok := m.toExternal[p.Local]; ok {
			return nil, fmt.Errorf("local id %d mapped twice (%d, %d)", p.Local, e, p.External)
		}
		m.toLocal[p.External] = p.Local
		m.toExternal[p.Local] = p.External
	}
	return m, nil
}

// LocalToExternal 把本地条目 ID 翻译到外部 ID 空间。
func (m *IDMapping) LocalToExternal(local int64) (int64, bool) {
	if m == nil {
		return 0, false
	}
	ext, ok := m.toExternal[local]
	return ext, ok
}

// ExternalToLocal 把外部条目 ID 翻译到本地 ID 空间。
func (m *IDMapping) ExternalToLocal(external int64) (int64, bool) {
	if m == nil {
		return 0, false
	}
	local, ok := m.toLocal[external]
	return local, ok
}

func (m *IDMapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.toLocal)
}

// Pairs 按外部 ID 升序返回全部映射对。
func (m *IDMapping) Pairs() []Pair {
	if m == nil {
		return nil
	}
	out := make([]Pair, 0, len(m.toLocal))
	for e, l := range m.toLocal {
		out = append(out, Pair{External: e, Local: l})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].External < out[j].External })
	return out
}

func (m *IDMapping) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Pairs())
}

func (m *IDMapping) UnmarshalJSON(b []byte) error {
	var pairs []Pair
	if err := json.Unmarshal(b, &pairs); err != nil {
		return err
	}
	built, err := New(pairs)
	if err != nil {
		return err
	}
	*m = *built
	return nil
}
