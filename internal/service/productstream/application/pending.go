package application

import (
	"context"
	"sync"

	"productstream/internal/service/productstream/domain"
)

// Pending 是一次 AddCondition 的结果，只会被决议一次：
// 成功时携带新条目，失败时携带 ErrDuplicateSingleton 或 ErrSessionClosed。
// 处理器从不调用 produce 时，它会一直挂起直到会话关闭。
type Pending struct {
	Container *domain.Container

	once  sync.Once
	done  chan struct{}
	entry *Entry
	err   error
}

func newPending(container *domain.Container) *Pending {
	return &Pending{
		Container: container,
		done:      make(chan struct{}),
	}
}

func (p *Pending) resolve(entry *Entry, err error) {
	p.once.Do(func() {
		p.entry, p.err = entry, err
		close(p.done)
	})
}

// Done 在决议后关闭。
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Resolved 报告是否已经决议。
func (p *Pending) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait 等待决议或 ctx 结束。
func (p *Pending) Wait(ctx context.Context) (*Entry, error) {
	select {
	case <-p.done:
		return p.entry, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
