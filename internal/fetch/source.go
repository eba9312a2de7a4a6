package fetch

import (
	"context"
	"net/url"

	"crossbt/internal/market"
)

// Request 描述一次单页 K 线请求，[Start,End) 为 Unix 毫秒半开区间。
type Request struct {
	Symbol   string
	Interval string
	Start    int64
	End      int64
	Limit    int
}

// PageSource 统一不同数据源的单页拉取行为；重试、游标推进由 Engine 负责。
// 实现方应将失败归类为 *TransportError（网络层）、*UpstreamError（非 200）
// 或 *ParseError（200 但响应体畸形，引擎不重试）。
type PageSource interface {
	Page(ctx context.Context, req Request) ([]market.Candle, error)
	Name() string
}

// Transport 是引擎消费的最小 HTTP GET 能力：给定查询参数，
// 返回状态码与响应体，或以网络层错误失败。
type Transport interface {
	Get(ctx context.Context, query url.Values) (status int, body []byte, err error)
}
