package mapping

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/rushteam/animerec/core"
)

// DefaultThreshold 是模糊匹配的最低相似度（0-100）。
const DefaultThreshold = 90

// BuildReport 统计一次构建的匹配情况。
type BuildReport struct {
	Exact     int `json:"exact"`
	Fuzzy     int `json:"fuzzy"`
	Unmatched int `json:"unmatched"`
}

// Build 通过标题匹配构建映射：先做大小写无关的精确匹配，再做编辑距离相似度匹配。
// 外部条目按 ID 升序处理，本地条目先到先得，保证一对一且结果确定。
func Build(external []core.ExternalItem, local []core.CatalogItem, threshold int) (*IDMapping, BuildReport) {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultThreshold
	}

	ext := append([]core.ExternalItem(nil), external...)
	sort.Slice(ext, func(i, j int) bool { return ext[i].ID < ext[j].ID })
	loc := append([]core.CatalogItem(nil), local...)
	sort.Slice(loc, func(i, j int) bool { return loc[i].ID < loc[j].ID })

	normLocal := make([]string, len(loc))
	exact := make(map[string]int64, len(loc))
	for i, it := range loc {
		n := normalizeTitle(it.Title)
		normLocal[i] = n
		if _, ok := exact[n]; !ok && n != "" {
			exact[n] = it.ID
		}
	}

	claimed := make(map[int64]bool, len(loc))
	pairs := make([]Pair, 0)
	var report BuildReport

	seen := make(map[int64]bool, len(ext))
	var pending []core.ExternalItem
	for _, e := range ext {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		n := normalizeTitle(e.Title)
		if id, ok := exact[n]; ok && n != "" && !claimed[id] {
			claimed[id] = true
			pairs = append(pairs, Pair{External: e.ID, Local: id})
			report.Exact++
			continue
		}
		pending = append(pending, e)
	}

	for _, e := range pending {
		n := normalizeTitle(e.Title)
		bestScore, bestID := -1, int64(0)
		for i, it := range loc {
			if claimed[it.ID] {
				continue
			}
			s := Similarity(n, normLocal[i])
			if s > bestScore {
				bestScore, bestID = s, it.ID
			}
		}
		if n != "" && bestScore >= threshold {
			claimed[bestID] = true
			pairs = append(pairs, Pair{External: e.ID, Local: bestID})
			report.Fuzzy++
			continue
		}
		report.Unmatched++
	}

	return fromPairs(pairs), report
}

// Similarity 返回两个标题的相似度（0-100），基于编辑距离。
func Similarity(a, b string) int {
	if a == b {
		return 100
	}
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return int(math.Round(100 * (1 - float64(d)/float64(maxLen))))
}

func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// fromPairs 要求 pairs 已满足一对一（Build 中由 seen/claimed 保证）。
func fromPairs(pairs []Pair) *IDMapping {
	m := Empty()
	for _, p := range pairs {
		m.toLocal[p.External] = p.Local
		m.toExternal[p.Local] = p.External
	}
	return m
}
