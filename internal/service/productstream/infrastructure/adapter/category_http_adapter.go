package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"productstream/internal/pkg/httpclient"
)

// Endpoint 返回目录服务的基础地址，例如 http://10.0.0.3:8090
type Endpoint func() (string, error)

// StaticEndpoint 使用固定地址
func StaticEndpoint(baseURL string) Endpoint {
	return func() (string, error) { return baseURL, nil }
}

// HTTPCategoryLookup 调用商品目录服务校验分类 ID。
// 目录服务的 GET {base}/categories?ids=1,2,3 返回 {"ids":[...]}，只包含存在的分类。
type HTTPCategoryLookup struct {
	client   *httpclient.Client
	endpoint Endpoint
}

func NewHTTPCategoryLookup(client *httpclient.Client, endpoint Endpoint) *HTTPCategoryLookup {
	return &HTTPCategoryLookup{client: client, endpoint: endpoint}
}

type categoryResponse struct {
	IDs []int `json:"ids"`
}

func (l *HTTPCategoryLookup) Missing(ctx context.Context, ids []int) ([]int, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	params := url.Values{}
	params.Set("ids", strings.Join(parts, ","))

	baseURL, err := l.endpoint()
	if err != nil {
		return nil, fmt.Errorf("resolve catalog endpoint: %w", err)
	}

	var resp categoryResponse
	if err := l.client.GetJSON(ctx, strings.TrimRight(baseURL, "/")+"/categories", params, &resp); err != nil {
		return nil, fmt.Errorf("category lookup: %w", err)
	}

	found := make(map[int]struct{}, len(resp.IDs))
	for _, id := range resp.IDs {
		found[id] = struct{}{}
	}
	var missing []int
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
