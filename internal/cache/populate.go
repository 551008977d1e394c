package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// FetchFunc 拉取单个清单资源并产出快照。
type FetchFunc func(ctx context.Context, rawURL string) (Snapshot, error)

// PopulationError 表示整批预缓存失败，记录第一个出错的资源。
type PopulationError struct {
	URL string
	Err error
}

func (e *PopulationError) Error() string {
	return fmt.Sprintf("populate %s: %v", e.URL, e.Err)
}

func (e *PopulationError) Unwrap() error {
	return e.Err
}

// NormalizePath 把请求路径折叠成规范形式，写入与查找共用同一口径，
// 否则带尾斜杠之类的等价路径会落到永远查不到的键上。
func NormalizePath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

// EntryKeyURL 把清单条目折叠成缓存键：只保留规范化 path(+query)。
// 绝对 URL 同样按路径落键，第三方资源经网关自身路径离线回放。
func EntryKeyURL(entry string) string {
	parsed, err := url.Parse(entry)
	if err != nil {
		return NormalizePath(entry)
	}
	keyURL := NormalizePath(parsed.Path)
	if parsed.RawQuery != "" {
		keyURL += "?" + parsed.RawQuery
	}
	return keyURL
}

// Populate 按顺序拉取清单中的每个 URL 并以 GET key 写入桶。
// 任意一个资源失败都会中止并向上传播（all-or-nothing）：
// 残缺的应用外壳比没有外壳更糟，由调用方负责丢弃半成品桶。
func Populate(ctx context.Context, bucket Bucket, urls []string, fetch FetchFunc) error {
	for _, raw := range urls {
		snap, err := fetch(ctx, raw)
		if err != nil {
			return &PopulationError{URL: raw, Err: err}
		}
		key := Key{Method: http.MethodGet, URL: EntryKeyURL(raw)}
		if err := bucket.Put(ctx, key, snap); err != nil {
			return &PopulationError{URL: raw, Err: err}
		}
	}
	return nil
}

// NewHTTPFetcher 构造基于共享 http.Client 的 FetchFunc。
// 根相对路径会先解析到 upstream，绝对 URL（例如 CDN 资源）原样请求。
// 4xx/5xx 一律视为失败，保证不会缓存错误页。
func NewHTTPFetcher(client *http.Client, upstream *url.URL) FetchFunc {
	return func(ctx context.Context, rawURL string) (Snapshot, error) {
		target := rawURL
		if parsed, err := url.Parse(rawURL); err == nil && !parsed.IsAbs() {
			if upstream == nil {
				return Snapshot{}, fmt.Errorf("relative manifest url without upstream: %s", rawURL)
			}
			target = upstream.ResolveReference(parsed).String()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return Snapshot{}, err
		}

		resp, err := client.Do(req)
		if err != nil {
			return Snapshot{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			return Snapshot{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return Snapshot{}, err
		}

		return Snapshot{
			Status:    resp.StatusCode,
			Header:    resp.Header.Clone(),
			Body:      body,
			FetchedAt: time.Now().UTC(),
		}, nil
	}
}
