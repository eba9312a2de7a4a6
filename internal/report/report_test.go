package report

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbt/internal/backtest"
	"crossbt/internal/market"
)

func reportCandles(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		p := decimal.NewFromInt(int64(100 + i))
		out[i] = market.Candle{
			OpenTime: int64(i) * 1_800_000,
			Open:     p, High: p.Add(decimal.NewFromInt(1)), Low: p.Sub(decimal.NewFromInt(1)), Close: p,
		}
	}
	return out
}

func TestBuildChartHTML(t *testing.T) {
	candles := reportCandles(10)
	input := Input{
		Symbol:   "btcusdt",
		Interval: "30m",
		Candles:  candles,
		Result: backtest.Result{
			RealROI: 5, TotalTrades: 1,
			Markers: []backtest.Marker{
				{Time: candles[2].OpenTime, Price: 102, Type: backtest.MarkerEntry, Side: backtest.SideLong},
				{Time: candles[7].OpenTime, Price: 107, Type: backtest.MarkerExit, Side: backtest.SideLong},
			},
			EquityReal: []backtest.EquityPoint{
				{Time: 0, Value: 10000}, {Time: 1_800_000, Value: 10100},
			},
			EquityShadow: []backtest.EquityPoint{
				{Time: 0, Value: 10000}, {Time: 1_800_000, Value: 10000},
			},
		},
	}
	html, err := BuildChartHTML(input)
	require.NoError(t, err)
	s := string(html)
	assert.Contains(t, s, "BTCUSDT 30m")
	assert.Contains(t, s, "资金曲线")
	assert.Contains(t, s, "echarts")
}

func TestBuildChartHTMLRequiresCandles(t *testing.T) {
	_, err := BuildChartHTML(Input{Symbol: "BTCUSDT", Interval: "30m"})
	assert.Error(t, err)

	_, err = BuildChartHTML(Input{Candles: reportCandles(1)})
	assert.Error(t, err)
}

func TestCandleIndex(t *testing.T) {
	candles := reportCandles(5)
	assert.Equal(t, -1, candleIndex(candles, -1))
	assert.Equal(t, 0, candleIndex(candles, 0))
	assert.Equal(t, 0, candleIndex(candles, 1_799_999))
	assert.Equal(t, 2, candleIndex(candles, 2*1_800_000))
	assert.Equal(t, 4, candleIndex(candles, 99*1_800_000))
	assert.Equal(t, -1, candleIndex(nil, 0))
}
