package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKlinesNumericStrings(t *testing.T) {
	body := []byte(`[
		[1700000000000, "42000.10", "42100.55", "41900.00", "42050.33", "123.45", 1700001799999, "5184000.0", 100, "60.0", "2520000.0", "0"],
		[1700001800000, "42050.33", "42200.00", "42000.00", "42199.99", "98.76", 1700003599999, "4150000.0", 90, "50.0", "2100000.0", "0"]
	]`)
	out, err := parseKlines(body)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1700000000000), out[0].OpenTime)
	assert.Equal(t, "42000.1", out[0].Open.String())
	assert.Equal(t, "42100.55", out[0].High.String())
	assert.Equal(t, "41900", out[0].Low.String())
	assert.Equal(t, "42050.33", out[0].Close.String())
	assert.Equal(t, "123.45", out[0].Volume.String())
}

func TestParseKlinesBareNumbers(t *testing.T) {
	// 规范允许数值或数值字符串两种形态。
	body := []byte(`[[0, 1.5, 2.5, 0.5, 2.0]]`)
	out, err := parseKlines(body)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "2", out[0].Close.String())
	assert.True(t, out[0].Volume.IsZero())
}

func TestParseKlinesRejectsShortRow(t *testing.T) {
	body := []byte(`[[1700000000000, "1", "2", "0.5"]]`)
	_, err := parseKlines(body)
	assert.Error(t, err)
}

func TestParseKlinesRejectsGarbagePrice(t *testing.T) {
	body := []byte(`[[1700000000000, "abc", "2", "0.5", "1"]]`)
	_, err := parseKlines(body)
	assert.Error(t, err)
}

func TestParseKlinesRejectsNonArray(t *testing.T) {
	_, err := parseKlines([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	assert.Error(t, err)
}

func TestParseKlinesEmptyArray(t *testing.T) {
	out, err := parseKlines([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, out)
}
