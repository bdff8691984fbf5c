// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const (
	lockRoot = "/distributed_locks" // 所有分布式锁的根节点
)

// ErrLockTimeout 表示在等待时间内没有拿到锁
var ErrLockTimeout = errors.New("timeout waiting for lock")

// DistributedLock 定义了一个分布式锁对象
type DistributedLock struct {
	conn     *Conn  // ZooKeeper连接
	path     string // 锁的路径，例如 /distributed_locks/product-stream-42
	lockNode string // 成功获取锁后，自己创建的节点路径
	wait     time.Duration
}

// NewDistributedLock 创建一个新的分布式锁实例，并确保锁路径存在
func NewDistributedLock(conn *Conn, resourceID string, wait time.Duration) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if err := conn.ensure(p); err != nil {
			return nil, err
		}
	}
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return &DistributedLock{
		conn: conn,
		path: lockPath,
		wait: wait,
	}, nil
}

// Path 返回锁节点的父路径
func (l *DistributedLock) Path() string {
	return l.path
}

// Lock 尝试获取锁，如果获取不到则阻塞等待，直到 ctx 结束或超时
func (l *DistributedLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	deadline := time.NewTimer(l.wait)
	defer deadline.Stop()

	for {
		// 2. 获取锁路径下的所有子节点
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			l.abandon()
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		// 受保护节点带有 _c_<guid>- 前缀，按序号部分排序
		sort.Slice(children, func(i, j int) bool {
			return sequence(children[i]) < sequence(children[j])
		})

		// 3. 判断自己是否是最小的节点
		myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
		if len(children) > 0 && myNodeName == children[0] {
			return nil
		}

		// 4. 不是最小节点，监听前一个节点
		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			l.abandon()
			return errors.New("cannot find previous node, something is wrong")
		}
		prevNodePath := l.path + "/" + children[prevNodeIndex]

		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			l.abandon()
			return fmt.Errorf("failed to watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
			// 前一个节点变化后重新竞争
		case <-ctx.Done():
			l.abandon()
			return ctx.Err()
		case <-deadline.C:
			l.abandon()
			return ErrLockTimeout
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}

func (l *DistributedLock) abandon() {
	if l.lockNode != "" {
		_ = l.conn.Delete(l.lockNode, -1)
		l.lockNode = ""
	}
}

func sequence(node string) string {
	if i := strings.LastIndex(node, "lock-"); i >= 0 {
		return node[i+len("lock-"):]
	}
	return node
}
