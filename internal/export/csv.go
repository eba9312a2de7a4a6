package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"crossbt/internal/backtest"
	"crossbt/internal/market"
)

// candleRow 是 K 线的 CSV 行表示，价格保留原始字符串精度。
type candleRow struct {
	OpenTime int64  `csv:"open_time"`
	Open     string `csv:"open"`
	High     string `csv:"high"`
	Low      string `csv:"low"`
	Close    string `csv:"close"`
	Volume   string `csv:"volume"`
}

// tradeRow 是成交明细的 CSV 行表示。
type tradeRow struct {
	Side       string  `csv:"side"`
	Mode       string  `csv:"mode"`
	EntryTime  int64   `csv:"entry_time"`
	EntryPrice float64 `csv:"entry_price"`
	ExitTime   int64   `csv:"exit_time"`
	ExitPrice  float64 `csv:"exit_price"`
	Size       float64 `csv:"size"`
	Leverage   float64 `csv:"leverage"`
	ExitReason string  `csv:"exit_reason"`
	PnL        float64 `csv:"pnl"`
	Fee        float64 `csv:"fee"`
	NetPnL     float64 `csv:"net_pnl"`
}

// CachePath 生成 K 线 CSV 缓存文件名：SYMBOL_interval_YYYYMMDD_to_YYYYMMDD.csv。
func CachePath(dir, symbol, interval string, startMS, endMS int64) string {
	name := fmt.Sprintf("%s_%s_%s_to_%s.csv",
		strings.ToUpper(symbol),
		strings.ToLower(interval),
		time.UnixMilli(startMS).UTC().Format("20060102"),
		time.UnixMilli(endMS).UTC().Format("20060102"))
	return filepath.Join(dir, name)
}

// SaveCandlesCSV 将 K 线序列写入 CSV 文件（覆盖写）。
func SaveCandlesCSV(path string, candles []market.Candle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows := make([]candleRow, 0, len(candles))
	for _, c := range candles {
		rows = append(rows, candleRow{
			OpenTime: c.OpenTime,
			Open:     c.Open.String(),
			High:     c.High.String(),
			Low:      c.Low.String(),
			Close:    c.Close.String(),
			Volume:   c.Volume.String(),
		})
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmt.Errorf("写 CSV 失败: %w", err)
	}
	return nil
}

// LoadCandlesCSV 从 CSV 缓存加载 K 线序列并校验有序性。
func LoadCandlesCSV(path string) ([]market.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []candleRow
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("解析 CSV 失败: %w", err)
	}
	candles := make([]market.Candle, 0, len(rows))
	for i, r := range rows {
		c := market.Candle{OpenTime: r.OpenTime}
		if c.Open, err = decimal.NewFromString(r.Open); err != nil {
			return nil, fmt.Errorf("第 %d 行 open 损坏: %w", i+1, err)
		}
		if c.High, err = decimal.NewFromString(r.High); err != nil {
			return nil, fmt.Errorf("第 %d 行 high 损坏: %w", i+1, err)
		}
		if c.Low, err = decimal.NewFromString(r.Low); err != nil {
			return nil, fmt.Errorf("第 %d 行 low 损坏: %w", i+1, err)
		}
		if c.Close, err = decimal.NewFromString(r.Close); err != nil {
			return nil, fmt.Errorf("第 %d 行 close 损坏: %w", i+1, err)
		}
		if c.Volume, err = decimal.NewFromString(r.Volume); err != nil {
			return nil, fmt.Errorf("第 %d 行 volume 损坏: %w", i+1, err)
		}
		candles = append(candles, c)
	}
	if err := market.ValidateSeries(candles); err != nil {
		return nil, err
	}
	return candles, nil
}

// SaveTradesCSV 导出回测成交明细。
func SaveTradesCSV(path string, trades []backtest.Trade) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rows := make([]tradeRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, tradeRow{
			Side:       string(t.Side),
			Mode:       string(t.Mode),
			EntryTime:  t.EntryTime,
			EntryPrice: t.EntryPrice,
			ExitTime:   t.ExitTime,
			ExitPrice:  t.ExitPrice,
			Size:       t.Size,
			Leverage:   t.Leverage,
			ExitReason: t.ExitReason,
			PnL:        t.PnL,
			Fee:        t.Fee,
			NetPnL:     t.NetPnL,
		})
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmt.Errorf("写 CSV 失败: %w", err)
	}
	return nil
}
