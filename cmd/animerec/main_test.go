package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rushteam/animerec/config"
	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/model"
	"github.com/rushteam/animerec/store"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
logging:
  level: error
  output_path: stderr
models:
  dir: %s
  lock_dir: %s
%s`, filepath.Join(dir, "models"), dir, extra)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRun_Usage(t *testing.T) {
	ctx := context.Background()
	if err := run(ctx, nil, &bytes.Buffer{}); err == nil {
		t.Error("missing command should fail")
	}
	if err := run(ctx, []string{"deploy"}, &bytes.Buffer{}); err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v", err)
	}
	if err := run(ctx, []string{"train", "-config", "/nonexistent/config.yaml"}, &bytes.Buffer{}); err == nil {
		t.Error("missing config file should fail")
	}
}

func TestRun_TrainWithoutData(t *testing.T) {
	path := writeConfig(t, "")
	var out bytes.Buffer
	err := run(context.Background(), []string{"train", "-config", path}, &out)
	if !core.IsTrainingDataInsufficient(err) {
		t.Errorf("err = %v, want insufficient training data", err)
	}
}

func TestRun_MapIDs(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "anime.csv")
	csv := "anime_id,name,genre,type,episodes,rating,members\n1,Cowboy Bebop,\"Action, Sci-Fi\",TV,26,8.8,100\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	path := writeConfig(t, fmt.Sprintf("dataset:\n  anime_csv: %s\n", csvPath))

	var out bytes.Buffer
	if err := run(context.Background(), []string{"map-ids", "-config", path}, &out); err != nil {
		t.Fatalf("map-ids: %v", err)
	}
	// 内存仓库没有本地条目，全部未匹配
	if !strings.Contains(out.String(), `"unmatched":1`) {
		t.Errorf("report = %s", out.String())
	}

	modelsDir := filepath.Join(filepath.Dir(path), "models")
	if _, err := store.NewFileBlobStore(modelsDir).Load(context.Background(), model.MappingBlobName); err != nil {
		t.Errorf("mapping blob not saved: %v", err)
	}
}

func TestRun_MapIDsRequiresDataset(t *testing.T) {
	path := writeConfig(t, "")
	if err := run(context.Background(), []string{"map-ids", "-config", path}, &bytes.Buffer{}); err == nil {
		t.Error("map-ids without dataset should fail")
	}
}

func TestApp_CloseReleasesLogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "animerec.log")
	cfgPath := filepath.Join(dir, "config.yaml")
	cfgYAML := fmt.Sprintf(`
logging:
  level: info
  format: json
  output_path: %s
models:
  dir: %s
  lock_dir: %s
`, logPath, filepath.Join(dir, "models"), dir)
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	a, err := newApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	closeLog := a.closeLog
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// app 已关闭日志文件，再关一次返回 os.ErrClosed
	if err := closeLog(); !errors.Is(err, os.ErrClosed) {
		t.Errorf("log file still open: close err = %v", err)
	}
	data, err := os.ReadFile(logPath)
	if err != nil || !strings.Contains(string(data), "in-memory repository") {
		t.Errorf("log file = %q, %v", data, err)
	}
}
