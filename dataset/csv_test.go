package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const animeCSV = `anime_id,name,genre,type,episodes,rating,members
32281,Kimi no Na wa.,"Drama, Romance, School, Supernatural",Movie,1,9.37,200630
5114,Fullmetal Alchemist: Brotherhood,"Action, Adventure",TV,64,9.26,793665
30484,Steins;Gate 0,"Sci-Fi, Thriller",TV,Unknown,,
`

const ratingCSV = `user_id,anime_id,rating
1,32281,-1
1,5114,10
2,5114,8
2,30484,0
3,30484,7
`

func TestReadItems(t *testing.T) {
	items, err := ReadItems(strings.NewReader(animeCSV))
	if err != nil {
		t.Fatalf("ReadItems: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	first := items[0]
	if first.ID != 32281 || first.Title != "Kimi no Na wa." || first.Type != "Movie" || first.Members != 200630 {
		t.Errorf("first = %+v", first)
	}
	if want := []string{"Drama", "Romance", "School", "Supernatural"}; !reflect.DeepEqual(first.Genres, want) {
		t.Errorf("genres = %v, want %v", first.Genres, want)
	}

	last := items[2]
	if last.Episodes != 0 || last.Members != 0 || last.Rating != 0 {
		t.Errorf("unknown/missing numeric fields should be 0: %+v", last)
	}
}

func TestReadRatings_DropsNonPositive(t *testing.T) {
	ratings, err := ReadRatings(strings.NewReader(ratingCSV))
	if err != nil {
		t.Fatalf("ReadRatings: %v", err)
	}
	if len(ratings) != 3 {
		t.Fatalf("got %d ratings, want 3", len(ratings))
	}
	for _, r := range ratings {
		if r.Rating <= 0 {
			t.Errorf("non-positive rating kept: %+v", r)
		}
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		read  func(string) error
	}{
		{
			name:  "empty file",
			input: "",
			read:  func(s string) error { _, err := ReadItems(strings.NewReader(s)); return err },
		},
		{
			name:  "missing column",
			input: "user_id,rating\n1,5\n",
			read:  func(s string) error { _, err := ReadRatings(strings.NewReader(s)); return err },
		},
		{
			name:  "bad id",
			input: "user_id,anime_id,rating\nabc,1,5\n",
			read:  func(s string) error { _, err := ReadRatings(strings.NewReader(s)); return err },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.read(tt.input); err == nil {
				t.Error("want error")
			}
		})
	}
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "anime.csv")
	r := filepath.Join(dir, "rating.csv")
	if err := os.WriteFile(a, []byte(animeCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(r, []byte(ratingCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	ds, err := LoadCSV(a, r)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(ds.Items) != 3 || len(ds.Ratings) != 3 {
		t.Errorf("items=%d ratings=%d", len(ds.Items), len(ds.Ratings))
	}

	if _, err := LoadCSV(filepath.Join(dir, "missing.csv"), r); err == nil {
		t.Error("missing file should fail")
	}
}
