package fetch

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"crossbt/internal/market"
)

// parseKlines 解析上游 kline 响应：JSON 数组的数组，
// 前五列依次为 open time(ms)、open、high、low、close，多余列忽略（volume 存在时保留）。
// 解析边界即校验边界：任何一行畸形都判定本次响应不可用。
func parseKlines(body []byte) ([]market.Candle, error) {
	var raw [][]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("kline 响应不是合法 JSON 数组: %w", err)
	}
	out := make([]market.Candle, 0, len(raw))
	for i, row := range raw {
		if len(row) < 5 {
			return nil, fmt.Errorf("kline 第 %d 行只有 %d 列，至少需要 5 列", i, len(row))
		}
		openTime, err := toInt64(row[0])
		if err != nil {
			return nil, fmt.Errorf("kline 第 %d 行 open time 非法: %w", i, err)
		}
		c := market.Candle{OpenTime: openTime}
		for idx, dst := range []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close} {
			v, err := toDecimal(row[idx+1])
			if err != nil {
				return nil, fmt.Errorf("kline 第 %d 行第 %d 列价格非法: %w", i, idx+1, err)
			}
			*dst = v
		}
		if len(row) > 5 {
			if v, err := toDecimal(row[5]); err == nil {
				c.Volume = v
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case string:
		return decimal.NewFromString(t)
	case float64:
		return decimal.NewFromFloat(t), nil
	case json.Number:
		return decimal.NewFromString(t.String())
	default:
		return decimal.Decimal{}, fmt.Errorf("既不是数值也不是数值字符串: %T", v)
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	case json.Number:
		return t.Int64()
	default:
		return 0, fmt.Errorf("无法转换为整数: %T", v)
	}
}
