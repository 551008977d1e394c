package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Store 负责管理磁盘上的命名缓存桶。磁盘布局遵循：
//
//	<StoragePath>/<bucket>/<sha1(key)>.meta    # JSON 元数据（key/status/header）
//	<StoragePath>/<bucket>/<sha1(key)>.body    # 原始响应正文
//
// 桶名携带版本标签（例如 coop-shell-v1），版本标签是唯一的失效手段。
type Store interface {
	// Open 按名称打开缓存桶，不存在则创建，幂等。
	Open(ctx context.Context, name string) (Bucket, error)

	// ListNames 返回当前存在的所有桶名。
	ListNames(ctx context.Context) ([]string, error)

	// Delete 整桶删除，桶不存在时不视为错误。
	Delete(ctx context.Context, name string) error
}

// Bucket 保存 request-key → response-snapshot 映射，所有写入均需原子落盘。
type Bucket interface {
	// Name 返回桶的版本标签名。
	Name() string

	// Put 写入一条快照，实现需通过临时文件 + rename 保证原子性。
	Put(ctx context.Context, key Key, snap Snapshot) error

	// Match 按 method+URL 精确查找，未命中返回 ErrNotFound。
	// 这是版本钉死的静态缓存，没有任何新鲜度或通配逻辑。
	Match(ctx context.Context, key Key) (*Snapshot, error)

	// Keys 返回桶内全部条目的 key 列表。
	Keys(ctx context.Context) ([]Key, error)
}

// Key 唯一定位一条缓存条目，按 method+URL 做精确匹配。
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// Snapshot 是一次上游响应的完整快照。
type Snapshot struct {
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	Body      []byte      `json:"-"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// ErrNotFound 表示缓存未命中。
var ErrNotFound = errors.New("cache entry not found")
