package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfiles = `
profiles:
  btc_main:
    symbol: btcusdt
    interval: 30m
    initial_capital: 20000
    default: true
    params:
      trend_fast: 100
      trend_slow: 150
      long_only: false
  eth_scout:
    symbol: ETHUSDT
    interval: 1h
`

func writeProfileFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderParsesProfiles(t *testing.T) {
	l, err := NewLoader(writeProfileFile(t, sampleProfiles))
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Equal(t, int64(1), snap.Version)
	require.Len(t, snap.Profiles, 2)

	btc, ok := l.Get("btc_main")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", btc.Symbol)
	assert.Equal(t, "30m", btc.Interval)
	assert.InDelta(t, 20000, btc.InitialCapital, 1e-9)
	// 覆盖的字段生效，其余保持缺省
	assert.Equal(t, 100, btc.Params.TrendFast)
	assert.Equal(t, 150, btc.Params.TrendSlow)
	assert.False(t, btc.Params.LongOnly)
	assert.Equal(t, 20, btc.Params.EntryFast)

	eth, ok := l.Get("eth_scout")
	require.True(t, ok)
	assert.InDelta(t, 10000, eth.InitialCapital, 1e-9)
	assert.True(t, eth.Params.LongOnly)
}

func TestLoaderDefaultProfile(t *testing.T) {
	l, err := NewLoader(writeProfileFile(t, sampleProfiles))
	require.NoError(t, err)

	def, ok := l.DefaultProfile()
	require.True(t, ok)
	assert.Equal(t, "btc_main", def.Name)
}

func TestLoaderRejectsMissingSymbol(t *testing.T) {
	_, err := NewLoader(writeProfileFile(t, `
profiles:
  broken:
    interval: 30m
`))
	assert.Error(t, err)
}

func TestLoaderRejectsUnknownInterval(t *testing.T) {
	_, err := NewLoader(writeProfileFile(t, `
profiles:
  broken:
    symbol: BTCUSDT
    interval: 7m
`))
	assert.Error(t, err)
}

func TestLoaderRejectsUnknownParamKey(t *testing.T) {
	_, err := NewLoader(writeProfileFile(t, `
profiles:
  broken:
    symbol: BTCUSDT
    interval: 30m
    params:
      not_a_param: 1
`))
	assert.Error(t, err)
}

func TestLoaderRejectsBadCapital(t *testing.T) {
	_, err := NewLoader(writeProfileFile(t, `
profiles:
  broken:
    symbol: BTCUSDT
    interval: 30m
    initial_capital: -5
`))
	assert.Error(t, err)
}

func TestLoaderRejectsEmptyFile(t *testing.T) {
	_, err := NewLoader(writeProfileFile(t, "profiles: {}\n"))
	assert.Error(t, err)
}

func TestSaveSkeletonRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, Save(path, Skeleton()))

	l, err := NewLoader(path)
	require.NoError(t, err)

	def, ok := l.DefaultProfile()
	require.True(t, ok)
	assert.Equal(t, "btc_main", def.Name)
	assert.Equal(t, "BTCUSDT", def.Symbol)
	assert.Equal(t, "30m", def.Interval)
}

func TestSaveRejectsEmptySet(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "profiles.yaml"), nil)
	assert.Error(t, err)
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	l, err := NewLoader(writeProfileFile(t, sampleProfiles))
	require.NoError(t, err)

	ch := make(chan Snapshot, 1)
	l.Subscribe(func(s Snapshot) { ch <- s })

	snap := <-ch
	assert.Len(t, snap.Profiles, 2)
}
