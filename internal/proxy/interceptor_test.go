package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/coop-shell/coop-shell/internal/cache"
)

type staticSource struct {
	bucket cache.Bucket
}

func (s *staticSource) CurrentBucket() (cache.Bucket, bool) {
	if s.bucket == nil {
		return nil, false
	}
	return s.bucket, true
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestBucket(t *testing.T) cache.Bucket {
	t.Helper()
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store error: %v", err)
	}
	bucket, err := store.Open(context.Background(), "coop-shell-v1")
	if err != nil {
		t.Fatalf("open bucket error: %v", err)
	}
	return bucket
}

func newTestApp(t *testing.T, interceptor *Interceptor) *fiber.App {
	t.Helper()
	app := fiber.New()
	app.All("/*", interceptor.Handle)
	return app
}

func TestServeFromCacheWithoutNetwork(t *testing.T) {
	var upstreamHits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		io.WriteString(w, "fresh content")
	}))
	defer upstream.Close()

	bucket := newTestBucket(t)
	key := cache.Key{Method: http.MethodGet, URL: "/static/app.js"}
	snap := cache.Snapshot{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"application/javascript"}},
		Body:   []byte("cached content"),
	}
	if err := bucket.Put(context.Background(), key, snap); err != nil {
		t.Fatalf("put error: %v", err)
	}

	base, _ := url.Parse(upstream.URL)
	interceptor := NewInterceptor(upstream.Client(), discardLogger(), &staticSource{bucket: bucket}, base)
	app := newTestApp(t, interceptor)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/static/app.js", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "cached content" {
		t.Fatalf("expected cached body, got %s", body)
	}
	if resp.Header.Get("X-Shell-Cache") != "hit" {
		t.Fatalf("expected cache hit header, got %s", resp.Header.Get("X-Shell-Cache"))
	}
	if resp.Header.Get("Content-Type") != "application/javascript" {
		t.Fatalf("expected snapshot header, got %s", resp.Header.Get("Content-Type"))
	}
	// 命中时绝不能访问网络，即使上游内容更新——陈旧是设计内接受的。
	if upstreamHits != 0 {
		t.Fatalf("expected no upstream hits, got %d", upstreamHits)
	}
}

func TestMissForwardsToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/cycles" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":1}]`)
	}))
	defer upstream.Close()

	base, _ := url.Parse(upstream.URL)
	interceptor := NewInterceptor(upstream.Client(), discardLogger(), &staticSource{bucket: newTestBucket(t)}, base)
	app := newTestApp(t, interceptor)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/cycles", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `[{"id":1}]` {
		t.Fatalf("unexpected body: %s", body)
	}
	if resp.Header.Get("X-Shell-Cache") != "miss" {
		t.Fatalf("expected cache miss header, got %s", resp.Header.Get("X-Shell-Cache"))
	}
}

func TestMissDoesNotPopulateCache(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "dynamic")
	}))
	defer upstream.Close()

	bucket := newTestBucket(t)
	base, _ := url.Parse(upstream.URL)
	interceptor := NewInterceptor(upstream.Client(), discardLogger(), &staticSource{bucket: bucket}, base)
	app := newTestApp(t, interceptor)

	if _, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/expenses", nil)); err != nil {
		t.Fatalf("app.Test error: %v", err)
	}

	if _, err := bucket.Match(context.Background(), cache.Key{Method: http.MethodGet, URL: "/api/expenses"}); err != cache.ErrNotFound {
		t.Fatalf("miss must not populate the cache, got %v", err)
	}
}

func TestNoBucketFallsThroughToNetwork(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "network only")
	}))
	defer upstream.Close()

	base, _ := url.Parse(upstream.URL)
	// 安装失败（redundant）时 source 不暴露任何桶。
	interceptor := NewInterceptor(upstream.Client(), discardLogger(), &staticSource{}, base)
	app := newTestApp(t, interceptor)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "network only" {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestUpstreamFailurePropagates(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // 立即关闭，模拟网络不可达

	base, _ := url.Parse(upstream.URL)
	interceptor := NewInterceptor(http.DefaultClient, discardLogger(), &staticSource{bucket: newTestBucket(t)}, base)
	app := newTestApp(t, interceptor)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/anything", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestHeadDoesNotMatchGetSnapshot(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Origin", "upstream")
	}))
	defer upstream.Close()

	bucket := newTestBucket(t)
	key := cache.Key{Method: http.MethodGet, URL: "/index.html"}
	if err := bucket.Put(context.Background(), key, cache.Snapshot{Status: 200, Body: []byte("shell")}); err != nil {
		t.Fatalf("put error: %v", err)
	}

	base, _ := url.Parse(upstream.URL)
	interceptor := NewInterceptor(upstream.Client(), discardLogger(), &staticSource{bucket: bucket}, base)
	app := newTestApp(t, interceptor)

	resp, err := app.Test(httptest.NewRequest(http.MethodHead, "/index.html", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()

	// 精确匹配 method+URL：HEAD 不吃 GET 快照，必须回源。
	if resp.Header.Get("X-Origin") != "upstream" {
		t.Fatal("expected HEAD to fall through to upstream")
	}
}
