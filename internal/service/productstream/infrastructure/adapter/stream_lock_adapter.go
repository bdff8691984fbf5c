package adapter

import (
	"context"
	"fmt"
	"time"

	"productstream/internal/zookeeper"
)

// ZkStreamLocker 用 ZooKeeper 临时顺序节点保证同一商品流同一时刻只有一个实例在保存。
type ZkStreamLocker struct {
	conn *zookeeper.Conn
	wait time.Duration
}

func NewZkStreamLocker(conn *zookeeper.Conn, wait time.Duration) *ZkStreamLocker {
	return &ZkStreamLocker{conn: conn, wait: wait}
}

// LockResource 返回商品流对应的锁资源名
func LockResource(streamID int64) string {
	return fmt.Sprintf("product-stream-%d", streamID)
}

func (l *ZkStreamLocker) Lock(ctx context.Context, streamID int64) (func() error, error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, LockResource(streamID), l.wait)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, fmt.Errorf("lock product stream %d: %w", streamID, err)
	}
	return lock.Unlock, nil
}
