package feature

import (
	"sort"

	"github.com/goccy/go-json"
)

// UnknownIndex 是未见过的 ID/类别使用的编码（冷启动桶）。
const UnknownIndex = 0

// LabelEncoder 把 int64 ID 编码为稠密整数。
// 已知 ID 按升序编码为 1..n，未知 ID 编码为 UnknownIndex，因此冷启动不会与任何训练样本共用编码。
type LabelEncoder struct {
	Classes []int64 `json:"classes"`

	index map[int64]int
}

// FitLabelEncoder 从 ids 拟合编码器，重复值只计一次。
func FitLabelEncoder(ids []int64) *LabelEncoder {
	seen := make(map[int64]struct{}, len(ids))
	classes := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		classes = append(classes, id)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	e := &LabelEncoder{Classes: classes}
	e.buildIndex()
	return e
}

func (e *LabelEncoder) buildIndex() {
	e.index = make(map[int64]int, len(e.Classes))
	for i, c := range e.Classes {
		e.index[c] = i + 1
	}
}

// UnmarshalJSON 反序列化后重建索引，之后 Encode 只读，可并发调用。
func (e *LabelEncoder) UnmarshalJSON(b []byte) error {
	var raw struct {
		Classes []int64 `json:"classes"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.Classes = raw.Classes
	e.buildIndex()
	return nil
}

// Encode 返回 id 的编码，未知 id 返回 UnknownIndex。
func (e *LabelEncoder) Encode(id int64) int {
	if e == nil {
		return UnknownIndex
	}
	if idx, ok := e.index[id]; ok {
		return idx
	}
	return UnknownIndex
}

// Known 判断 id 是否在训练编码中。
func (e *LabelEncoder) Known(id int64) bool {
	return e.Encode(id) != UnknownIndex
}

// Len 返回已知类别数。
func (e *LabelEncoder) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Classes)
}

// CategoryEncoder 把字符串类别编码为 0..n-1（按字典序），空值和未知值为 -1。
type CategoryEncoder struct {
	Categories []string `json:"categories"`

	index map[string]int
}

func FitCategoryEncoder(values []string) *CategoryEncoder {
	seen := make(map[string]struct{})
	cats := make([]string, 0)
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		cats = append(cats, v)
	}
	sort.Strings(cats)
	e := &CategoryEncoder{Categories: cats}
	e.buildIndex()
	return e
}

func (e *CategoryEncoder) buildIndex() {
	e.index = make(map[string]int, len(e.Categories))
	for i, c := range e.Categories {
		e.index[c] = i
	}
}

func (e *CategoryEncoder) UnmarshalJSON(b []byte) error {
	var raw struct {
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.Categories = raw.Categories
	e.buildIndex()
	return nil
}

func (e *CategoryEncoder) Encode(v string) int {
	if e == nil || v == "" {
		return -1
	}
	if idx, ok := e.index[v]; ok {
		return idx
	}
	return -1
}

// TopGenres 统计 genre 出现次数（按样本行计数），返回出现最多的 k 个，次数相同时按名称排序。
func TopGenres(rows [][]string, k int) []string {
	counts := make(map[string]int)
	for _, genres := range rows {
		for _, g := range genres {
			if g == "" {
				continue
			}
			counts[g]++
		}
	}
	names := make([]string, 0, len(counts))
	for g := range counts {
		names = append(names, g)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > k {
		names = names[:k]
	}
	return names
}

// OneHot 按 vocab 顺序返回 0/1 向量。
func OneHot(vocab []string, values []string) []float64 {
	out := make([]float64, len(vocab))
	if len(values) == 0 {
		return out
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	for i, g := range vocab {
		if _, ok := set[g]; ok {
			out[i] = 1
		}
	}
	return out
}
