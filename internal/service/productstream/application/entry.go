package application

import (
	"productstream/internal/service/productstream/domain"
)

// Entry 是会话中一个处于激活状态的条件：处理器产出的载荷加上包裹它的容器。
type Entry struct {
	ID        string
	Key       string
	Handler   domain.Handler
	Item      domain.Item
	Container *domain.Container
}

// entryList 是会话唯一的条目结构，激活 key 列表由它推导，
// 因此 key 列表与条目映射不可能失去同步。删除时压缩，不留空洞。
type entryList struct {
	order []*Entry
}

func (l *entryList) append(e *Entry) {
	l.order = append(l.order, e)
}

func (l *entryList) keys() []string {
	keys := make([]string, len(l.order))
	for i, e := range l.order {
		keys[i] = e.Key
	}
	return keys
}

func (l *entryList) indexOfKey(key string) int {
	for i, e := range l.order {
		if e.Key == key {
			return i
		}
	}
	return -1
}

func (l *entryList) containsKey(key string) bool {
	return l.indexOfKey(key) >= 0
}

func (l *entryList) firstByKey(key string) (*Entry, bool) {
	if i := l.indexOfKey(key); i >= 0 {
		return l.order[i], true
	}
	return nil, false
}

func (l *entryList) removeAt(i int) *Entry {
	e := l.order[i]
	l.order = append(l.order[:i], l.order[i+1:]...)
	return e
}

// removeFirstKey 移除第一个绑定到 key 的条目。
func (l *entryList) removeFirstKey(key string) (*Entry, bool) {
	if i := l.indexOfKey(key); i >= 0 {
		return l.removeAt(i), true
	}
	return nil, false
}

func (l *entryList) removeByID(id string) (*Entry, bool) {
	for i, e := range l.order {
		if e.ID == id {
			return l.removeAt(i), true
		}
	}
	return nil, false
}

func (l *entryList) snapshot() []*Entry {
	out := make([]*Entry, len(l.order))
	copy(out, l.order)
	return out
}

func (l *entryList) reset() []*Entry {
	old := l.order
	l.order = nil
	return old
}
