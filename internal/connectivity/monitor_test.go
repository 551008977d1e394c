package connectivity

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/coop-shell/coop-shell/internal/notify"
)

// recordingNotifier 记录每次 Show 调用，便于断言边沿触发语义。
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notify.Notification
}

func (r *recordingNotifier) Show(message string, severity notify.Severity) notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := notify.Notification{Message: message, Severity: severity}
	r.calls = append(r.calls, n)
	return n
}

func (r *recordingNotifier) snapshot() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.calls...)
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSignalIsEdgeTriggered(t *testing.T) {
	notifier := &recordingNotifier{}
	monitor := NewMonitor(true, notifier, discardLogger(), nil)

	// 初始在线，序列 [online, online, offline, offline, online]
	// 应只产生两条通知：offline 与 back online。
	for _, online := range []bool{true, true, false, false, true} {
		monitor.Signal(online)
	}

	calls := notifier.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected exactly 2 notifications, got %d: %+v", len(calls), calls)
	}
	if calls[0].Message != messageOffline || calls[0].Severity != notify.SeverityWarning {
		t.Fatalf("unexpected first notification: %+v", calls[0])
	}
	if calls[1].Message != messageBackOnline || calls[1].Severity != notify.SeveritySuccess {
		t.Fatalf("unexpected second notification: %+v", calls[1])
	}
}

func TestSignalTogglesDegradedFlag(t *testing.T) {
	notifier := &recordingNotifier{}
	var toggles []bool
	monitor := NewMonitor(true, notifier, discardLogger(), func(online bool) {
		toggles = append(toggles, online)
	})

	monitor.Signal(false)
	monitor.Signal(false)
	monitor.Signal(true)

	if len(toggles) != 2 || toggles[0] != false || toggles[1] != true {
		t.Fatalf("expected toggles [false true], got %v", toggles)
	}
	if !monitor.Online() {
		t.Fatal("expected monitor to report online")
	}
}

func TestProberFeedsMonitor(t *testing.T) {
	var mu sync.Mutex
	healthy := true
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ok := healthy
		mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	notifier := &recordingNotifier{}
	monitor := NewMonitor(true, notifier, discardLogger(), nil)

	base, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	prober := NewProber(upstream.Client(), base, "/health", 10*time.Millisecond, monitor, discardLogger())
	prober.Start(context.Background())
	defer prober.Stop()

	mu.Lock()
	healthy = false
	mu.Unlock()

	waitFor(t, func() bool { return !monitor.Online() }, "monitor to go offline")

	mu.Lock()
	healthy = true
	mu.Unlock()

	waitFor(t, func() bool { return monitor.Online() }, "monitor to come back online")
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
