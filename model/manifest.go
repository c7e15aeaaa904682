package model

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/rushteam/animerec/core"
)

// ManifestBlobName 指向当前生效的一组模型 blob。
const ManifestBlobName = "manifest.json"

// Manifest 记录一次训练产出的 blob 名字。
//
// 训练先写入带 run id 的 bundle 与权重，最后写 manifest；Reload 只通过 manifest 解析，
// 因此中途失败或并发 Reload 看到的总是上一组完整产物。
// Local/External 为空表示该数据源没有模型。
type Manifest struct {
	RunID     string    `json:"run_id"`
	Local     string    `json:"local,omitempty"`
	External  string    `json:"external,omitempty"`
	Weights   string    `json:"weights"`
	CreatedAt time.Time `json:"created_at"`
}

// legacyManifest 对应没有 manifest 时的固定 blob 名。
func legacyManifest() Manifest {
	return Manifest{Local: LocalBlobName, External: ExternalBlobName, Weights: WeightsBlobName}
}

// runBlobName 把 run id 插到扩展名前：local_model.json -> local_model.<run>.json。
func runBlobName(base, runID string) string {
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext) + "." + runID + ext
}

// LoadManifest 读取当前 manifest；不存在时返回固定名字的旧布局。
func LoadManifest(ctx context.Context, blobs core.BlobStore) (Manifest, error) {
	data, err := blobs.Load(ctx, ManifestBlobName)
	if core.IsNotFound(err) {
		return legacyManifest(), nil
	}
	if err != nil {
		return legacyManifest(), fmt.Errorf("load %s: %w", ManifestBlobName, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return legacyManifest(), fmt.Errorf("decode manifest: %w", err)
	}
	if m.Weights == "" {
		m.Weights = WeightsBlobName
	}
	return m, nil
}

func saveManifest(ctx context.Context, blobs core.BlobStore, m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := blobs.Save(ctx, ManifestBlobName, data); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}
