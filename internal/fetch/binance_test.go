package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKlineAPIBuildsQuery(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[[0,"1","1","1","1"]]`))
	}))
	defer srv.Close()

	api := NewKlineAPI(srv.URL, time.Second)
	src, err := NewRESTSource(api)
	require.NoError(t, err)

	out, err := src.Page(context.Background(), Request{
		Symbol: "btcusdt", Interval: "30m", Start: 0, End: 3_600_000, Limit: 500,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "/api/v3/klines", gotPath)
	assert.Contains(t, gotQuery, "symbol=BTCUSDT")
	assert.Contains(t, gotQuery, "interval=30m")
	assert.Contains(t, gotQuery, "startTime=0")
	assert.Contains(t, gotQuery, "endTime=3600000")
	assert.Contains(t, gotQuery, "limit=500")
}

func TestRESTSourceMapsNon200ToUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests."}`))
	}))
	defer srv.Close()

	src, err := NewRESTSource(NewKlineAPI(srv.URL, time.Second))
	require.NoError(t, err)

	_, err = src.Page(context.Background(), Request{Symbol: "BTCUSDT", Interval: "30m", End: 1, Limit: 1})
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusTeapot, upstream.Status)
	assert.Equal(t, int64(-1003), upstream.Code)
	assert.Equal(t, "Too many requests.", upstream.Message)
}

func TestEngineStopsOnMalformedBody(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[["not-a-number","1","1","1","1"]]`))
	}))
	defer srv.Close()

	src, err := NewRESTSource(NewKlineAPI(srv.URL, time.Second))
	require.NoError(t, err)
	eng, err := NewEngine(src, Options{Interval: "30m", Limit: 1000, MaxAttempts: 3})
	require.NoError(t, err)
	var slept []time.Duration
	eng.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err = eng.Fetch(context.Background(), "BTCUSDT", 0, 3_600_000)
	var parse *ParseError
	require.True(t, errors.As(err, &parse))
	// 畸形 200 响应只打一次上游，不消耗退避预算。
	assert.Equal(t, 1, hits)
	assert.Empty(t, slept)
}

func TestRESTSourceMapsConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // 立即关闭，制造连接失败

	src, err := NewRESTSource(NewKlineAPI(srv.URL, time.Second))
	require.NoError(t, err)

	_, err = src.Page(context.Background(), Request{Symbol: "BTCUSDT", Interval: "30m", End: 1, Limit: 1})
	var transport *TransportError
	assert.True(t, errors.As(err, &transport))
}
