package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbt/internal/market"
)

func testCandle(openTime int64, close string) market.Candle {
	p := decimal.RequireFromString(close)
	return market.Candle{
		OpenTime: openTime,
		Open:     p, High: p, Low: p, Close: p,
		Volume: decimal.NewFromInt(1),
	}
}

func TestInsertAndRangeCandles(t *testing.T) {
	s, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	step := int64(1_800_000)
	candles := []market.Candle{
		testCandle(0, "100.5"),
		testCandle(step, "101.25"),
		testCandle(2*step, "99.875"),
	}
	n, err := s.InsertCandles(ctx, "btcusdt", "30m", candles)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// 半开区间：end 处的 open_time 不含
	got, err := s.RangeCandles(ctx, "BTCUSDT", "30m", 0, 2*step)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Close.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, got[1].Close.Equal(decimal.RequireFromString("101.25")))

	all, err := s.AllCandles(ctx, "BTCUSDT", "30m")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestInsertUpsertsOnOpenTime(t *testing.T) {
	s, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.InsertCandles(ctx, "ETHUSDT", "1h", []market.Candle{testCandle(0, "10")})
	require.NoError(t, err)
	_, err = s.InsertCandles(ctx, "ETHUSDT", "1h", []market.Candle{testCandle(0, "20")})
	require.NoError(t, err)

	all, err := s.AllCandles(ctx, "ETHUSDT", "1h")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Close.Equal(decimal.NewFromInt(20)))
}

func TestManifestTracksRange(t *testing.T) {
	s, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	step := int64(3_600_000)
	_, err = s.InsertCandles(ctx, "BTCUSDT", "1h", []market.Candle{
		testCandle(step, "1"), testCandle(3*step, "2"),
	})
	require.NoError(t, err)

	m, err := s.Manifest(ctx, "BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", m.Symbol)
	assert.Equal(t, "1h", m.Interval)
	assert.Equal(t, step, m.MinTime)
	assert.Equal(t, 3*step, m.MaxTime)
	assert.Equal(t, int64(2), m.Rows)
	assert.Positive(t, m.LastSyncAt)
}

func TestGapsFindsMissingRuns(t *testing.T) {
	s, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	step := int64(1_800_000)
	// 持有 0 和 3*step，缺 1*step、2*step 和 4*step
	_, err = s.InsertCandles(ctx, "BTCUSDT", "30m", []market.Candle{
		testCandle(0, "1"), testCandle(3*step, "2"),
	})
	require.NoError(t, err)

	gaps, err := s.Gaps(ctx, "BTCUSDT", "30m", 0, 5*step)
	require.NoError(t, err)
	require.Len(t, gaps, 2)
	assert.Equal(t, Gap{Start: step, End: 3 * step}, gaps[0])
	assert.Equal(t, Gap{Start: 4 * step, End: 5 * step}, gaps[1])
}

func TestGapsEmptyCacheIsOneGap(t *testing.T) {
	s, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	step := int64(1_800_000)
	gaps, err := s.Gaps(context.Background(), "BTCUSDT", "30m", 0, 3*step)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, Gap{Start: 0, End: 3 * step}, gaps[0])
}

func TestGapsFullCacheIsEmpty(t *testing.T) {
	s, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	step := int64(1_800_000)
	_, err = s.InsertCandles(ctx, "BTCUSDT", "30m", []market.Candle{
		testCandle(0, "1"), testCandle(step, "2"), testCandle(2*step, "3"),
	})
	require.NoError(t, err)

	gaps, err := s.Gaps(ctx, "BTCUSDT", "30m", 0, 3*step)
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestGapsUnalignedStart(t *testing.T) {
	s, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	step := int64(1_800_000)
	// start 落在网格中间：第一个期望点是向上对齐后的 step
	gaps, err := s.Gaps(context.Background(), "BTCUSDT", "30m", step/2, 2*step)
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, Gap{Start: step, End: 2 * step}, gaps[0])
}

func TestGapsRejectsUnknownInterval(t *testing.T) {
	s, err := NewCandleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Gaps(context.Background(), "BTCUSDT", "7m", 0, 1)
	assert.Error(t, err)
}
