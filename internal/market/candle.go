package market

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Candle 表示一根固定周期的 K 线，OpenTime 为全序列唯一且严格递增的排序键。
// 价格沿用交易所返回的十进制字符串语义，避免 float 精度损失。
type Candle struct {
	OpenTime int64           `json:"open_time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	Volume   decimal.Decimal `json:"volume"`
}

// CloseFloat 返回收盘价的 float64 视图，供指标计算使用。
func (c Candle) CloseFloat() float64 {
	f, _ := c.Close.Float64()
	return f
}

// Closes 提取收盘价序列。
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.CloseFloat()
	}
	return out
}

// ValidateSeries 校验序列按 OpenTime 严格递增（无重复、无乱序）。
func ValidateSeries(candles []Candle) error {
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime <= candles[i-1].OpenTime {
			return fmt.Errorf("K 线序列在第 %d 根处乱序: %d <= %d", i, candles[i].OpenTime, candles[i-1].OpenTime)
		}
	}
	return nil
}
