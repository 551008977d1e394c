package install

import (
	"context"
	"errors"
	"sync"
)

// ErrOfferAbandoned 表示邀约在用户做出选择前被放弃（页面卸载或超时）。
var ErrOfferAbandoned = errors.New("install offer abandoned")

// ChannelOffer 把异步到达的用户选择桥接成 Offer：Prompt 阻塞等待
// Resolve 送入的选择。平台不保证邀约一定被解决，调用方通过 ctx 控制放弃。
type ChannelOffer struct {
	once   sync.Once
	choice chan Choice
}

// NewChannelOffer 创建尚未解决的邀约。
func NewChannelOffer() *ChannelOffer {
	return &ChannelOffer{
		choice: make(chan Choice, 1),
	}
}

// Prompt 阻塞直到 Resolve、Abandon 或 ctx 结束。
func (o *ChannelOffer) Prompt(ctx context.Context) (Choice, error) {
	select {
	case choice, ok := <-o.choice:
		if !ok {
			return "", ErrOfferAbandoned
		}
		return choice, nil
	case <-ctx.Done():
		return "", ErrOfferAbandoned
	}
}

// Resolve 写入用户选择，仅第一次调用生效。
func (o *ChannelOffer) Resolve(choice Choice) {
	o.once.Do(func() {
		o.choice <- choice
	})
}

// Abandon 在没有用户选择的情况下作废邀约：被新邀约顶替时调用，
// 让阻塞中的 Prompt 立即以 ErrOfferAbandoned 返回，而不是永久挂起。
// 与 Resolve 互斥，仅第一次生效。
func (o *ChannelOffer) Abandon() {
	o.once.Do(func() {
		close(o.choice)
	})
}
