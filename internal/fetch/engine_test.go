package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbt/internal/market"
)

func candleAt(ts int64) market.Candle {
	price := decimal.NewFromInt(100)
	return market.Candle{OpenTime: ts, Open: price, High: price, Low: price, Close: price}
}

type pageResult struct {
	candles []market.Candle
	err     error
}

// scriptedSource 按预设顺序逐次返回响应，并记录收到的每个请求。
type scriptedSource struct {
	script   []pageResult
	requests []Request
}

func (s *scriptedSource) Page(_ context.Context, req Request) ([]market.Candle, error) {
	s.requests = append(s.requests, req)
	if len(s.script) == 0 {
		return nil, nil
	}
	next := s.script[0]
	s.script = s.script[1:]
	return next.candles, next.err
}

func (s *scriptedSource) Name() string { return "scripted" }

// recordSleeps 替换引擎的等待实现，记录每次等待时长。
func recordSleeps(e *Engine) *[]time.Duration {
	var slept []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return &slept
}

func newTestEngine(t *testing.T, src PageSource, opts Options) *Engine {
	t.Helper()
	if opts.Limit == 0 {
		opts.Limit = 1000
	}
	eng, err := NewEngine(src, opts)
	require.NoError(t, err)
	return eng
}

func TestFetchEmptyWindowMakesNoRequest(t *testing.T) {
	src := &scriptedSource{}
	eng := newTestEngine(t, src, Options{})
	recordSleeps(eng)

	out, err := eng.Fetch(context.Background(), "BTCUSDT", 2000, 1000)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, src.requests)

	out, err = eng.Fetch(context.Background(), "BTCUSDT", 1000, 1000)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Empty(t, src.requests)
}

func TestFetchThreePagesThenEmpty(t *testing.T) {
	src := &scriptedSource{script: []pageResult{
		{candles: []market.Candle{candleAt(0), candleAt(1_800_000)}},
		{candles: []market.Candle{candleAt(3_000_000)}},
		{candles: nil},
	}}
	eng := newTestEngine(t, src, Options{Limit: 2, MaxAttempts: 3, InterPageDelay: 200 * time.Millisecond})
	slept := recordSleeps(eng)

	out, err := eng.Fetch(context.Background(), "BTCUSDT", 0, 3_600_000)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, int64(0), out[0].OpenTime)
	assert.Equal(t, int64(1_800_000), out[1].OpenTime)
	assert.Equal(t, int64(3_000_000), out[2].OpenTime)

	// 游标精确推进：下一页下界 = 上一页最后一根 open time + 1。
	require.Len(t, src.requests, 3)
	assert.Equal(t, int64(0), src.requests[0].Start)
	assert.Equal(t, int64(1_800_001), src.requests[1].Start)
	assert.Equal(t, int64(3_000_001), src.requests[2].Start)
	for _, req := range src.requests {
		assert.Equal(t, int64(3_600_000), req.End)
		assert.Equal(t, 2, req.Limit)
	}

	// 每个成功页之后等待一次页间延迟，空页收尾后不再等待。
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	src := &scriptedSource{script: []pageResult{
		{err: &UpstreamError{Status: 429}},
		{err: &UpstreamError{Status: 429}},
		{candles: []market.Candle{candleAt(0)}},
	}}
	eng := newTestEngine(t, src, Options{Limit: 1000, MaxAttempts: 3})
	slept := recordSleeps(eng)

	out, err := eng.Fetch(context.Background(), "BTCUSDT", 0, 1_800_000)
	require.NoError(t, err)
	require.Len(t, out, 1)
	// 同一页 3 次尝试，加上确认区间耗尽的空页请求。
	assert.Len(t, src.requests, 4)
	// 失败第 1、2 次后分别退避 2^1、2^2 秒。
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *slept)
}

func TestFetchExhaustsRetryBudget(t *testing.T) {
	cause := &UpstreamError{Status: 500, Code: -1000, Message: "internal error"}
	src := &scriptedSource{script: []pageResult{
		{candles: []market.Candle{candleAt(0)}},
		{err: cause}, {err: cause}, {err: cause},
	}}
	eng := newTestEngine(t, src, Options{Limit: 1000, MaxAttempts: 3, InterPageDelay: time.Millisecond})
	recordSleeps(eng)

	out, err := eng.Fetch(context.Background(), "BTCUSDT", 0, 7_200_000)
	require.Error(t, err)

	var failed *FetchFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 3, failed.Attempts)
	var upstream *UpstreamError
	require.True(t, errors.As(failed.Cause, &upstream))
	assert.Equal(t, 500, upstream.Status)

	// 全量或失败：第一页已成功，结果仍被整体丢弃。
	assert.Nil(t, out)
	// 第一页 1 次 + 第二页 3 次尝试。
	assert.Len(t, src.requests, 4)
}

func TestFetchTransportErrorConsumesBudget(t *testing.T) {
	src := &scriptedSource{script: []pageResult{
		{err: &TransportError{Err: errors.New("connection refused")}},
		{err: &TransportError{Err: errors.New("connection refused")}},
	}}
	eng := newTestEngine(t, src, Options{Limit: 1000, MaxAttempts: 2})
	recordSleeps(eng)

	_, err := eng.Fetch(context.Background(), "BTCUSDT", 0, 1_800_000)
	var failed *FetchFailedError
	require.True(t, errors.As(err, &failed))
	var transport *TransportError
	assert.True(t, errors.As(failed.Cause, &transport))
}

func TestFetchParseErrorAbortsWithoutRetry(t *testing.T) {
	cause := &ParseError{Err: errors.New("第 0 行 open time 非法")}
	src := &scriptedSource{script: []pageResult{
		{err: cause}, {err: cause}, {err: cause},
	}}
	eng := newTestEngine(t, src, Options{Limit: 1000, MaxAttempts: 3})
	slept := recordSleeps(eng)

	out, err := eng.Fetch(context.Background(), "BTCUSDT", 0, 1_800_000)
	require.Error(t, err)
	assert.Nil(t, out)

	// 契约破坏不走重试预算：单次请求，零退避，原样返回 *ParseError。
	assert.Len(t, src.requests, 1)
	assert.Empty(t, *slept)
	var parse *ParseError
	require.True(t, errors.As(err, &parse))
	var failed *FetchFailedError
	assert.False(t, errors.As(err, &failed))
}

func TestBackoffDelayCappedAt30s(t *testing.T) {
	expect := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, want := range expect {
		assert.Equal(t, want, backoffDelay(i+1), "attempt %d", i+1)
	}
}

func TestNewEngineRejectsInvalidLimit(t *testing.T) {
	for _, limit := range []int{-1, 1001, 5000} {
		_, err := NewEngine(&scriptedSource{}, Options{Limit: limit})
		assert.ErrorIs(t, err, ErrInvalidLimit, "limit=%d", limit)
	}
	_, err := NewEngine(&scriptedSource{}, Options{Limit: 1})
	assert.NoError(t, err)
	_, err = NewEngine(&scriptedSource{}, Options{Limit: 1000})
	assert.NoError(t, err)
}

func TestFetchCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &scriptedSource{script: []pageResult{{candles: []market.Candle{candleAt(0)}}}}
	eng := newTestEngine(t, src, Options{Limit: 1000})

	_, err := eng.Fetch(ctx, "BTCUSDT", 0, 1_800_000)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.requests)
}

func TestSleepCtxInterruptible(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	err := sleepCtx(ctx, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClampToWindowDropsBoundaryRow(t *testing.T) {
	page := []market.Candle{candleAt(0), candleAt(1_800_000), candleAt(3_600_000)}
	kept := clampToWindow(page, 3_600_000)
	require.Len(t, kept, 2)
	assert.Equal(t, int64(1_800_000), kept[len(kept)-1].OpenTime)
}

// datasetSource 基于固定数据集按请求窗口/limit 切片，模拟真实分页行为。
type datasetSource struct {
	data []market.Candle
}

func (s *datasetSource) Page(_ context.Context, req Request) ([]market.Candle, error) {
	var out []market.Candle
	for _, c := range s.data {
		if c.OpenTime >= req.Start && c.OpenTime <= req.End {
			out = append(out, c)
			if len(out) == req.Limit {
				break
			}
		}
	}
	return out, nil
}

func (s *datasetSource) Name() string { return "dataset" }

func TestFetchResumptionEquivalence(t *testing.T) {
	const step = 1_800_000
	var data []market.Candle
	for ts := int64(0); ts < 20*step; ts += step {
		data = append(data, candleAt(ts))
	}
	src := &datasetSource{data: data}
	mkEngine := func() *Engine {
		eng := newTestEngine(t, src, Options{Limit: 3})
		recordSleeps(eng)
		return eng
	}

	start, mid, end := int64(0), int64(7*step), int64(20*step)

	full, err := mkEngine().Fetch(context.Background(), "BTCUSDT", start, end)
	require.NoError(t, err)
	head, err := mkEngine().Fetch(context.Background(), "BTCUSDT", start, mid)
	require.NoError(t, err)
	tail, err := mkEngine().Fetch(context.Background(), "BTCUSDT", mid, end)
	require.NoError(t, err)

	joined := append(append([]market.Candle{}, head...), tail...)
	require.Equal(t, len(full), len(joined))
	for i := range full {
		assert.Equal(t, full[i].OpenTime, joined[i].OpenTime)
	}
	require.NoError(t, market.ValidateSeries(joined))

	// 单调覆盖：首根不早于 start，末根严格早于 end。
	assert.GreaterOrEqual(t, full[0].OpenTime, start)
	assert.Less(t, full[len(full)-1].OpenTime, end)
}
