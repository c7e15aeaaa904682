// Package dataset 加载外部参考数据集（条目元数据表 + 用户评分表）。
//
// 输入格式为带表头的 CSV：
//
//	anime.csv:  anime_id,name,genre,type,episodes,rating,members
//	rating.csv: user_id,anime_id,rating
//
// 列按表头名查找，顺序无关。清洗规则：评分 <= 0（-1 表示看过未评分）的行丢弃，
// 非数字的 episodes 记为 0，缺失的 members/rating 记为 0。
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rushteam/animerec/core"
)

// LoadCSV 从两个文件加载数据集。
func LoadCSV(animeCSV, ratingCSV string) (core.ExternalDataset, error) {
	af, err := os.Open(animeCSV)
	if err != nil {
		return core.ExternalDataset{}, fmt.Errorf("open item csv: %w", err)
	}
	defer af.Close()
	items, err := ReadItems(af)
	if err != nil {
		return core.ExternalDataset{}, fmt.Errorf("%s: %w", animeCSV, err)
	}

	rf, err := os.Open(ratingCSV)
	if err != nil {
		return core.ExternalDataset{}, fmt.Errorf("open rating csv: %w", err)
	}
	defer rf.Close()
	ratings, err := ReadRatings(rf)
	if err != nil {
		return core.ExternalDataset{}, fmt.Errorf("%s: %w", ratingCSV, err)
	}
	return core.ExternalDataset{Items: items, Ratings: ratings}, nil
}

// ReadItems 解析条目元数据表。
func ReadItems(r io.Reader) ([]core.ExternalItem, error) {
	rows, cols, err := readTable(r, "anime_id", "name")
	if err != nil {
		return nil, err
	}
	out := make([]core.ExternalItem, 0, len(rows))
	for i, row := range rows {
		id, err := strconv.ParseInt(field(row, cols, "anime_id"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid anime_id: %w", i+2, err)
		}
		out = append(out, core.ExternalItem{
			ID:       id,
			Title:    field(row, cols, "name"),
			Genres:   splitGenres(field(row, cols, "genre")),
			Type:     field(row, cols, "type"),
			Episodes: atoiOrZero(field(row, cols, "episodes")),
			Members:  atoiOrZero(field(row, cols, "members")),
			Rating:   atofOrZero(field(row, cols, "rating")),
		})
	}
	return out, nil
}

// ReadRatings 解析评分表，丢弃评分 <= 0 的行。
func ReadRatings(r io.Reader) ([]core.ExternalRating, error) {
	rows, cols, err := readTable(r, "user_id", "anime_id", "rating")
	if err != nil {
		return nil, err
	}
	out := make([]core.ExternalRating, 0, len(rows))
	for i, row := range rows {
		uid, err := strconv.ParseInt(field(row, cols, "user_id"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid user_id: %w", i+2, err)
		}
		iid, err := strconv.ParseInt(field(row, cols, "anime_id"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid anime_id: %w", i+2, err)
		}
		rating := atofOrZero(field(row, cols, "rating"))
		if rating <= 0 {
			continue
		}
		out = append(out, core.ExternalRating{UserID: uid, ItemID: iid, Rating: rating})
	}
	return out, nil
}

func readTable(r io.Reader, required ...string) ([][]string, map[string]int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", name)
		}
	}

	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, rec)
	}
	return rows, cols, nil
}

func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func splitGenres(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			return int(f)
		}
		return 0
	}
	return n
}

func atofOrZero(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
