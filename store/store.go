package store

// 注意：此包只包含实现，接口定义在 core 包。
// 使用 core.Store（推荐缓存后端）和 core.BlobStore（模型持久化）接口。
//
// 示例：
//   var cacheBackend core.Store = NewMemoryStore()
//   var blobs core.BlobStore = NewFileBlobStore("./models")
