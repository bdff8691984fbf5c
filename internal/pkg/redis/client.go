// internal/pkg/redis/client.go
package redis

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"
)

// Client 封装了 go-redis 的通用客户端，单地址为单机模式，多地址为集群模式。
type Client struct {
	client goredis.UniversalClient
}

// NewClient 根据逗号分隔的地址创建客户端并做一次连通性检查。
func NewClient(addrs string) (*Client, error) {
	var list []string
	for _, a := range strings.Split(addrs, ",") {
		if a = strings.TrimSpace(a); a != "" {
			list = append(list, a)
		}
	}
	if len(list) == 0 {
		return nil, errors.New("redis: no address configured")
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        list,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "redis: ping %s", addrs)
	}
	zlog.Info().Strs("addrs", list).Msg("✅ Successfully connected to Redis.")
	return &Client{client: client}, nil
}

// NewFromUniversal 包装一个已有的客户端。
func NewFromUniversal(c goredis.UniversalClient) *Client {
	return &Client{client: c}
}

// GetClient 返回底层客户端。
func (c *Client) GetClient() goredis.UniversalClient {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}
