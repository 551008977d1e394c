package integration

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("解析地址失败: %v", err)
	}
	return parsed
}

// upstreamStub 模拟托管外壳资源的农场应用上游：
// 按路径返回固定内容，记录命中次数，并支持整体切换为故障状态。
type upstreamStub struct {
	httpd *httptest.Server
	URL   string

	mu     sync.Mutex
	assets map[string]string
	hits   map[string]int
	broken bool
}

func newUpstreamStub(t *testing.T, assets map[string]string) *upstreamStub {
	t.Helper()

	stub := &upstreamStub{
		assets: assets,
		hits:   map[string]int{},
	}

	stub.httpd = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.hits[r.URL.Path]++
		broken := stub.broken
		body, known := stub.assets[r.URL.Path]
		stub.mu.Unlock()

		if broken {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if !known {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(stub.httpd.Close)
	stub.URL = stub.httpd.URL

	return stub
}

// Hits 返回某路径的累计请求数。
func (s *upstreamStub) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// SetBroken 切换上游故障状态，所有请求返回 503。
func (s *upstreamStub) SetBroken(broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = broken
}

// Close 立即关闭上游，模拟完全离线。
func (s *upstreamStub) Close() {
	s.httpd.Close()
}
