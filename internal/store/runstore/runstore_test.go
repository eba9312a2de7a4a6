package runstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crossbt/internal/backtest"
)

func openTestStore(t *testing.T) *RunStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRun() RunRecord {
	return RunRecord{
		RunID:          uuid.NewString(),
		Symbol:         "btcusdt",
		Interval:       "30M",
		StartTime:      0,
		EndTime:        86_400_000,
		Params:         backtest.DefaultParams(),
		InitialCapital: 10000,
	}
}

func TestInsertAndGetRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := newTestRun()
	require.NoError(t, s.InsertRun(ctx, rec))

	got, err := s.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, "30m", got.Interval)
	assert.Equal(t, RunStatusPending, got.Status)
	assert.Equal(t, rec.Params, got.Params)
	assert.Nil(t, got.FinishedAt)
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestUpdateStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := newTestRun()
	require.NoError(t, s.InsertRun(ctx, rec))
	require.NoError(t, s.UpdateStatus(ctx, rec.RunID, RunStatusFailed, "数据不足"))

	got, err := s.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	assert.Equal(t, "数据不足", got.Error)

	assert.ErrorIs(t, s.UpdateStatus(ctx, "nope", RunStatusDone, ""), ErrRunNotFound)
}

func TestSaveResultRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := newTestRun()
	require.NoError(t, s.InsertRun(ctx, rec))

	res := backtest.Result{
		InitialCapital:   10000,
		FinalRealCapital: 11200,
		RealROI:          12,
		MDDReal:          4.5,
		TotalTrades:      2,
		Demotions:        1,
		Trades: []backtest.Trade{
			{Side: backtest.SideLong, Mode: backtest.ModeReal, EntryTime: 10, ExitTime: 20, NetPnL: 1500, ExitReason: "trailing_stop"},
			{Side: backtest.SideLong, Mode: backtest.ModeShadow, EntryTime: 30, ExitTime: 40, NetPnL: -300, ExitReason: "ema_dead_cross"},
		},
		Markers: []backtest.Marker{
			{Time: 10, Type: backtest.MarkerEntry, Side: backtest.SideLong, Mode: backtest.ModeReal},
			{Time: 25, Type: backtest.MarkerModeSwitch, Mode: backtest.ModeShadow},
		},
	}
	require.NoError(t, s.SaveResult(ctx, rec.RunID, res))

	got, err := s.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, got.Status)
	assert.InDelta(t, 11200, got.FinalRealCapital, 1e-9)
	assert.Equal(t, 2, got.TotalTrades)
	assert.Equal(t, 1, got.Demotions)
	require.NotNil(t, got.FinishedAt)

	trades, err := s.ListTrades(ctx, rec.RunID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "trailing_stop", trades[0].ExitReason)
	assert.Equal(t, backtest.ModeShadow, trades[1].Mode)

	markers, err := s.ListMarkers(ctx, rec.RunID)
	require.NoError(t, err)
	require.Len(t, markers, 2)
	assert.Equal(t, backtest.MarkerModeSwitch, markers[1].Type)
}

func TestSaveResultUnknownRun(t *testing.T) {
	s := openTestStore(t)
	err := s.SaveResult(context.Background(), "nope", backtest.Result{})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRunsFilterAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := newTestRun()
	b := newTestRun()
	b.Symbol = "ETHUSDT"
	require.NoError(t, s.InsertRun(ctx, a))
	require.NoError(t, s.InsertRun(ctx, b))

	all, err := s.ListRuns(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	eth, err := s.ListRuns(ctx, "ethusdt", 10)
	require.NoError(t, err)
	require.Len(t, eth, 1)
	assert.Equal(t, b.RunID, eth[0].RunID)
}
