package connectivity

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Prober 周期性地探测上游可达性，并把结果作为在线/离线信号
// 喂给 Monitor，相当于浏览器 online/offline 事件的服务端等价物。
// 信号接口仍然开放：诊断端点可以直接注入状态翻转。
type Prober struct {
	client   *http.Client
	target   string
	interval time.Duration
	monitor  *Monitor
	logger   *logrus.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewProber 构造探测器。probePath 会解析到 upstream，探测使用 HEAD 请求，
// 任何网络错误都视为离线，2xx-4xx 均视为在线（能收到响应即代表可达）。
func NewProber(client *http.Client, upstream *url.URL, probePath string, interval time.Duration, monitor *Monitor, logger *logrus.Logger) *Prober {
	ref := &url.URL{Path: probePath}
	return &Prober{
		client:   client,
		target:   upstream.ResolveReference(ref).String(),
		interval: interval,
		monitor:  monitor,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start 启动探测循环，需配对调用 Stop。
func (p *Prober) Start(ctx context.Context) {
	go p.loop(ctx)
}

// Stop 停止探测并等待循环退出，可重复调用。
func (p *Prober) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	<-p.doneCh
}

func (p *Prober) loop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.monitor.Signal(p.probe(ctx))
		}
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.target, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if p.logger != nil {
			p.logger.WithFields(logrus.Fields{
				"action": "probe",
				"target": p.target,
			}).Debug(err.Error())
		}
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
