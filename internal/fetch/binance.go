package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"crossbt/internal/market"
)

const klinesPath = "/api/v3/klines"

// KlineAPI 是面向 Binance Spot /api/v3/klines 的 Transport 实现。
type KlineAPI struct {
	baseURL string
	client  *http.Client
}

func NewKlineAPI(base string, timeout time.Duration) *KlineAPI {
	if base == "" {
		base = "https://api.binance.com"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &KlineAPI{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *KlineAPI) Get(ctx context.Context, query url.Values) (int, []byte, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return 0, nil, err
	}
	u.Path = klinesPath
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// RESTSource 通过原始 REST Transport 拉取单页 K 线。
type RESTSource struct {
	transport Transport
}

func NewRESTSource(t Transport) (*RESTSource, error) {
	if t == nil {
		return nil, fmt.Errorf("transport 不能为空")
	}
	return &RESTSource{transport: t}, nil
}

func (s *RESTSource) Name() string { return "binance-rest" }

func (s *RESTSource) Page(ctx context.Context, req Request) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(req.Symbol))
	q.Set("interval", req.Interval)
	q.Set("startTime", strconv.FormatInt(req.Start, 10))
	q.Set("endTime", strconv.FormatInt(req.End, 10))
	q.Set("limit", strconv.Itoa(req.Limit))

	status, body, err := s.transport.Get(ctx, q)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if status != http.StatusOK {
		return nil, upstreamError(status, body)
	}
	candles, err := parseKlines(body)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return candles, nil
}

// upstreamError 从非 200 响应体里尽量提取 Binance 的 code/msg。
func upstreamError(status int, body []byte) *UpstreamError {
	e := &UpstreamError{Status: status}
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		e.Code = parsed.Get("code").Int()
		e.Message = parsed.Get("msg").String()
	}
	return e
}
