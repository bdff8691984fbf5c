// internal/service/productstream/domain/container.go
package domain

import (
	"sync"

	"github.com/google/uuid"
)

// Options 是创建条件时调用方附带的初始参数，由处理器自行解释。
type Options map[string]any

// Container 是包裹一个条件载荷的可关闭、可折叠外壳。
type Container struct {
	ID      string
	Title   string
	options Options

	mu        sync.Mutex
	key       string
	item      Item
	collapsed bool
	closed    bool
	onClose   func(c *Container)
}

// NewContainer 创建一个尚未绑定载荷的容器。
func NewContainer(title string, options Options) *Container {
	if options == nil {
		options = Options{}
	}
	return &Container{
		ID:      uuid.New().String(),
		Title:   title,
		options: options,
	}
}

// Options 返回创建时的参数。
func (c *Container) Options() Options {
	return c.options
}

// Bind 把载荷放入容器并记录它对应的条件 key。
func (c *Container) Bind(key string, item Item, onClose func(c *Container)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	c.item = item
	c.onClose = onClose
}

func (c *Container) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.key
}

func (c *Container) Item() Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.item
}

func (c *Container) Collapsed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collapsed
}

// SetCollapsed 折叠或展开容器。加载出的条件默认折叠，新添加的默认展开。
func (c *Container) SetCollapsed(collapsed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collapsed = collapsed
}

// ToggleCollapse 切换折叠状态并返回新状态。
func (c *Container) ToggleCollapse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collapsed = !c.collapsed
	return c.collapsed
}

func (c *Container) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Detach 在条目被会话直接移除时调用，只标记关闭，不再回调会话。
func (c *Container) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.onClose = nil
}

// Close 关闭容器，触发会话移除对应条目。重复关闭无副作用。
func (c *Container) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()

	if onClose != nil {
		onClose(c)
	}
}
