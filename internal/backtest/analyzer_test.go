package backtest

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrades() []Trade {
	step := int64(1_800_000)
	return []Trade{
		{Mode: ModeReal, NetPnL: 100, PnL: 110, Fee: 10, EntryTime: 0, ExitTime: 4 * step},
		{Mode: ModeReal, NetPnL: -40, PnL: -30, Fee: 10, EntryTime: 5 * step, ExitTime: 7 * step},
		{Mode: ModeShadow, NetPnL: -60, PnL: -50, Fee: 10, EntryTime: 8 * step, ExitTime: 10 * step},
		{Mode: ModeShadow, NetPnL: 200, PnL: 210, Fee: 10, EntryTime: 11 * step, ExitTime: 19 * step},
		{Mode: ModeReal, NetPnL: 50, PnL: 60, Fee: 10, EntryTime: 20 * step, ExitTime: 22 * step},
	}
}

func TestAnalyzeAll(t *testing.T) {
	s := Analyze(sampleTrades(), FilterAll, 1_800_000)

	assert.Equal(t, 5, s.TotalTrades)
	assert.Equal(t, 3, s.WinningTrades)
	assert.Equal(t, 2, s.LosingTrades)
	assert.InDelta(t, 60.0, s.WinRate, 1e-9)

	assert.InDelta(t, 250, s.NetPnL, 1e-9)
	assert.InDelta(t, 50, s.TotalFees, 1e-9)

	// 盈亏比 = 350/100
	assert.InDelta(t, 3.5, s.ProfitFactor, 1e-9)
	assert.InDelta(t, 350.0/3, s.AvgProfit, 1e-9)
	assert.InDelta(t, -50, s.AvgLoss, 1e-9)
	assert.InDelta(t, 200, s.MaxProfit, 1e-9)
	assert.InDelta(t, -60, s.MaxLoss, 1e-9)

	// 持仓根数 4+2+2+8+2 = 18
	assert.InDelta(t, 18.0/5, s.AvgHoldingBars, 1e-9)
	assert.Equal(t, 1, s.MaxConsecWins)
	assert.Equal(t, 2, s.MaxConsecLoss)
}

func TestAnalyzeModeFilter(t *testing.T) {
	real := Analyze(sampleTrades(), FilterReal, 1_800_000)
	assert.Equal(t, 3, real.TotalTrades)
	assert.InDelta(t, 110, real.NetPnL, 1e-9)

	shadow := Analyze(sampleTrades(), FilterShadow, 1_800_000)
	assert.Equal(t, 2, shadow.TotalTrades)
	assert.InDelta(t, 140, shadow.NetPnL, 1e-9)
}

func TestAnalyzeEmptyAndAllWins(t *testing.T) {
	empty := Analyze(nil, FilterAll, 1_800_000)
	assert.Zero(t, empty.TotalTrades)
	assert.Zero(t, empty.ProfitFactor)

	allWins := Analyze([]Trade{
		{Mode: ModeReal, NetPnL: 10, ExitTime: 1_800_000},
		{Mode: ModeReal, NetPnL: 20, ExitTime: 3_600_000},
	}, FilterAll, 1_800_000)
	assert.True(t, math.IsInf(allWins.ProfitFactor, 1))
	assert.Equal(t, 2, allWins.MaxConsecWins)
	assert.Zero(t, allWins.MaxConsecLoss)
}

func TestConsecutiveRuns(t *testing.T) {
	trades := []Trade{
		{NetPnL: 1}, {NetPnL: 1}, {NetPnL: -1},
		{NetPnL: 1}, {NetPnL: -1}, {NetPnL: -1}, {NetPnL: -1},
	}
	wins, losses := consecutiveRuns(trades)
	assert.Equal(t, 2, wins)
	assert.Equal(t, 3, losses)
}

func TestRenderSummaryOutput(t *testing.T) {
	res := Result{
		InitialCapital:   10000,
		FinalRealCapital: 10110,
		RealROI:          1.1,
		TotalTrades:      5,
		RealTrades:       3,
		ShadowTrades:     2,
		WinningTrades:    3,
		LosingTrades:     2,
	}
	stats := map[ModeFilter]TradeStats{
		FilterAll:  Analyze(sampleTrades(), FilterAll, 1_800_000),
		FilterReal: Analyze(sampleTrades(), FilterReal, 1_800_000),
	}

	var buf bytes.Buffer
	RenderSummary(&buf, res, stats)
	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "初始资金")
	assert.Contains(t, out, "[ALL]")
	assert.Contains(t, out, "[REAL]")
	assert.NotContains(t, out, "[SHADOW]")
}

func TestFormatProfitFactor(t *testing.T) {
	assert.Equal(t, "inf", formatProfitFactor(math.Inf(1)))
	assert.Equal(t, "1.25", formatProfitFactor(1.25))
}
