// internal/zookeeper/conn.go
package zookeeper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	zlog "github.com/rs/zerolog/log"
)

// Conn 包装 zk.Conn，锁与节点维护都通过它进行
type Conn struct {
	*zk.Conn
}

// Connect 连接逗号分隔的 ZooKeeper 集群地址
func Connect(servers string, sessionTimeout time.Duration) (*Conn, error) {
	var list []string
	for _, s := range strings.Split(servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return nil, errors.New("zookeeper: no server configured")
	}
	conn, _, err := zk.Connect(list, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect %s: %w", servers, err)
	}
	zlog.Info().Strs("servers", list).Msg("✅ Connected to ZooKeeper.")
	return &Conn{Conn: conn}, nil
}

func (c *Conn) ensure(path string) error {
	exists, _, err := c.Exists(path)
	if err != nil {
		return fmt.Errorf("zookeeper: check %s: %w", path, err)
	}
	if exists {
		return nil
	}
	_, err = c.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("zookeeper: create %s: %w", path, err)
	}
	return nil
}
