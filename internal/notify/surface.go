package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Severity 描述通知的严重级别，同时决定横幅的样式类。
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// CSSClass 输出横幅渲染用的样式类，未知级别回退到 info。
func (s Severity) CSSClass() string {
	switch s {
	case SeveritySuccess:
		return "notification-success"
	case SeverityWarning:
		return "notification-warning"
	case SeverityError:
		return "notification-error"
	default:
		return "notification-info"
	}
}

// DefaultTTL 是通知自动消失的默认时长。
const DefaultTTL = 5 * time.Second

// Notification 表示当前展示的单条通知。
type Notification struct {
	ID       string    `json:"id"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	ShownAt  time.Time `json:"shown_at"`
}

// Surface 是单槽位的临时通知面，新通知总是先移除旧通知再展示，
// 到期后由内部定时器自动清除。并发 Show 以“后写者胜”语义串行化。
type Surface struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	current *Notification
	timer   *time.Timer
}

// NewSurface 创建通知面，ttl <= 0 时使用 DefaultTTL。
func NewSurface(ttl time.Duration) *Surface {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Surface{
		ttl: ttl,
		now: time.Now,
	}
}

// Show 展示一条新通知：先移除当前通知并停掉旧定时器，再写入新内容。
func (s *Surface) Show(message string, severity Severity) Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()

	n := Notification{
		ID:       uuid.NewString(),
		Message:  message,
		Severity: severity,
		ShownAt:  s.now(),
	}
	s.current = &n

	id := n.ID
	s.timer = time.AfterFunc(s.ttl, func() {
		s.dismissByID(id)
	})
	return n
}

// Dismiss 立即清除当前通知，对应用户手动关闭。
func (s *Surface) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// Current 返回当前可见的通知。
func (s *Surface) Current() (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Notification{}, false
	}
	return *s.current, true
}

// dismissByID 仅当槽位仍被同一条通知占用时才清除，
// 防止过期定时器误删后续通知。
func (s *Surface) dismissByID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.ID != id {
		return
	}
	s.clearLocked()
}

func (s *Surface) clearLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.current = nil
}
