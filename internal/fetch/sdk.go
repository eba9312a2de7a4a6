package fetch

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"crossbt/internal/market"
)

// SDKSource 基于官方 go-binance SDK 的单页数据源，与 RESTSource 满足同一份分页契约。
type SDKSource struct {
	client *binance.Client
}

func NewSDKSource(baseURL string, timeout time.Duration) *SDKSource {
	client := binance.NewClient("", "")
	if base := strings.TrimSpace(baseURL); base != "" {
		client.BaseURL = strings.TrimRight(base, "/")
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &SDKSource{client: client}
}

func (s *SDKSource) Name() string { return "binance-sdk" }

func (s *SDKSource) Page(ctx context.Context, req Request) ([]market.Candle, error) {
	svc := s.client.NewKlinesService().
		Symbol(strings.ToUpper(req.Symbol)).
		Interval(req.Interval).
		StartTime(req.Start).
		EndTime(req.End).
		Limit(req.Limit)
	kls, err := svc.Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return nil, &UpstreamError{Code: apiErr.Code, Message: apiErr.Message}
		}
		return nil, &TransportError{Err: err}
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		c := market.Candle{OpenTime: kl.OpenTime}
		fields := []struct {
			raw string
			dst *decimal.Decimal
		}{
			{kl.Open, &c.Open},
			{kl.High, &c.High},
			{kl.Low, &c.Low},
			{kl.Close, &c.Close},
			{kl.Volume, &c.Volume},
		}
		for _, f := range fields {
			v, err := decimal.NewFromString(f.raw)
			if err != nil {
				return nil, &ParseError{Err: err}
			}
			*f.dst = v
		}
		out = append(out, c)
	}
	return out, nil
}
