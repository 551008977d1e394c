package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/coop-shell/coop-shell/internal/cache"
	"github.com/coop-shell/coop-shell/internal/logging"
	"github.com/coop-shell/coop-shell/internal/server"
)

// BucketSource 提供当前生效的缓存桶，仅在外壳生命周期 activated 后返回 true。
type BucketSource interface {
	CurrentBucket() (cache.Bucket, bool)
}

// Interceptor 拦截所有出站资源请求：命中缓存直接回放快照（即使网络
// 可能给出更新的内容——为了离线可用性，陈旧是设计内接受的）；未命中
// 则转发上游并原样透传结果或失败。未命中不回写缓存：预缓存只在安装期
// 按清单整批完成。
type Interceptor struct {
	client   *http.Client
	logger   *logrus.Logger
	source   BucketSource
	upstream *url.URL
}

// NewInterceptor constructs an interceptor with shared HTTP client/logger.
func NewInterceptor(client *http.Client, logger *logrus.Logger, source BucketSource, upstream *url.URL) *Interceptor {
	return &Interceptor{
		client:   client,
		logger:   logger,
		source:   source,
		upstream: upstream,
	}
}

// Handle 实现 server.Handler。
func (i *Interceptor) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	key := requestKey(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if bucket, ok := i.source.CurrentBucket(); ok {
		snap, err := bucket.Match(ctx, key)
		switch {
		case err == nil:
			return i.serveSnapshot(c, bucket.Name(), key, snap, requestID, started)
		case errors.Is(err, cache.ErrNotFound):
			// miss, continue
		default:
			i.logger.WithError(err).
				WithFields(logrus.Fields{"bucket": bucket.Name(), "path": key.URL}).
				Warn("cache_match_failed")
		}
	}

	return i.forward(c, key, requestID, started, ctx)
}

// serveSnapshot 回放缓存快照，不做任何再验证。
func (i *Interceptor) serveSnapshot(
	c fiber.Ctx,
	bucketName string,
	key cache.Key,
	snap *cache.Snapshot,
	requestID string,
	started time.Time,
) error {
	copyResponseHeaders(c, snap.Header)
	c.Set("X-Shell-Cache", "hit")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Response().Header.SetContentLength(len(snap.Body))
	c.Status(snap.Status)

	i.logResult(key, bucketName, requestID, snap.Status, true, started, nil)

	if c.Method() == http.MethodHead {
		return nil
	}
	_, err := c.Response().BodyWriter().Write(snap.Body)
	return err
}

// forward 转发上游并流式回传，网络失败以 502 形式传播给页面。
func (i *Interceptor) forward(
	c fiber.Ctx,
	key cache.Key,
	requestID string,
	started time.Time,
	ctx context.Context,
) error {
	target := i.resolveUpstreamURL(c)

	req, err := i.buildUpstreamRequest(ctx, c, target)
	if err != nil {
		i.logResult(key, "", requestID, 0, false, started, err)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp, err := i.client.Do(req)
	if err != nil {
		i.logResult(key, "", requestID, 0, false, started, err)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Shell-Cache", "miss")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		i.logResult(key, "", requestID, resp.StatusCode, false, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	i.logResult(key, "", requestID, resp.StatusCode, false, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, "proxy stream failed")
	}
	return nil
}

func (i *Interceptor) buildUpstreamRequest(ctx context.Context, c fiber.Ctx, target *url.URL) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host
	req.Header.Set("Host", target.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())

	return req, nil
}

func (i *Interceptor) resolveUpstreamURL(c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	clean := normalizeRequestPath(string(uri.Path()))
	relative := &url.URL{Path: clean, RawPath: clean}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	return i.upstream.ResolveReference(relative)
}

func (i *Interceptor) logResult(
	key cache.Key,
	bucket string,
	requestID string,
	status int,
	cacheHit bool,
	started time.Time,
	err error,
) {
	if i.logger == nil {
		return
	}
	fields := logging.RequestFields(key.Method, key.URL, bucket, cacheHit)
	fields["action"] = "intercept"
	fields["status"] = status
	fields["duration_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		i.logger.WithFields(fields).Error(err.Error())
		return
	}
	i.logger.WithFields(fields).Info("request intercepted")
}

// requestKey 由 method + path(+query) 构成，与安装期写入的清单 key 精确对应。
func requestKey(c fiber.Ctx) cache.Key {
	uri := c.Request().URI()
	keyURL := normalizeRequestPath(string(uri.Path()))
	if query := uri.QueryString(); len(query) > 0 {
		keyURL += "?" + string(query)
	}
	return cache.Key{Method: c.Method(), URL: keyURL}
}

func normalizeRequestPath(raw string) string {
	return cache.NormalizePath(raw)
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
