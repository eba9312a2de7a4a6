package report

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"crossbt/internal/backtest"
	"crossbt/internal/market"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEntry         = "#3b82f6"
	colorExit          = "#fbbf24"
	colorModeSwitch    = "#f472b6"
	colorEquityReal    = "#22d3ee"
	colorEquityShadow  = "#a78bfa"

	chartWidthPx   = 1600
	klineHeightPx  = 600
	equityHeightPx = 320
)

// Input 汇总渲染一张回测报告需要的全部数据。
type Input struct {
	Symbol   string
	Interval string
	Candles  []market.Candle
	Result   backtest.Result
}

// ImageResult 是渲染出的 PNG 报告。
type ImageResult struct {
	Bytes    []byte `json:"-"`
	Base64   string `json:"base64"`
	Filename string `json:"filename"`
}

func (r *ImageResult) DataURI() string {
	if r == nil {
		return ""
	}
	if r.Base64 == "" && len(r.Bytes) > 0 {
		r.Base64 = base64.StdEncoding.EncodeToString(r.Bytes)
	}
	if r.Base64 == "" {
		return ""
	}
	return "data:image/png;base64," + r.Base64
}

// BuildChartHTML 生成报告页面：K 线叠加进出场/模式切换标记，外加双账户资金曲线。
func BuildChartHTML(input Input) ([]byte, error) {
	if input.Symbol == "" {
		return nil, fmt.Errorf("symbol 必填")
	}
	if len(input.Candles) == 0 {
		return nil, fmt.Errorf("%s 没有可渲染的 K 线", input.Symbol)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		buildKlineChart(input),
		buildEquityChart(input),
	)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveHTML 把报告页面写到磁盘。
func SaveHTML(path string, input Input) error {
	html, err := BuildChartHTML(input)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, html, 0o644)
}

// RenderPNG 经 headless Chrome 把报告页面截成 PNG。
func RenderPNG(ctx context.Context, input Input) (ImageResult, error) {
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return ImageResult{}, err
	}
	html, err := BuildChartHTML(input)
	if err != nil {
		return ImageResult{}, err
	}
	height := klineHeightPx + equityHeightPx
	png, err := renderHTMLToPNG(ctx, html, chartWidthPx, height)
	if err != nil {
		return ImageResult{}, err
	}
	return ImageResult{
		Bytes:    png,
		Base64:   base64.StdEncoding.EncodeToString(png),
		Filename: fmt.Sprintf("%s_%s_backtest.png", strings.ToLower(input.Symbol), strings.ToLower(input.Interval)),
	}, nil
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func buildKlineChart(input Input) *charts.Kline {
	candles := input.Candles
	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", strings.ToUpper(input.Symbol), input.Interval),
			Subtitle:      buildSubtitle(input.Result),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	xAxis := buildXAxis(candles)
	klineData := make([]opts.KlineData, 0, len(candles))
	for _, c := range candles {
		klineData = append(klineData, opts.KlineData{Value: [4]float64{
			c.Open.InexactFloat64(),
			c.Close.InexactFloat64(),
			c.Low.InexactFloat64(),
			c.High.InexactFloat64(),
		}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", klineData)

	scatter := buildMarkerScatter(candles, input.Result.Markers)
	scatter.SetXAxis(xAxis)
	kline.Overlap(scatter)
	return kline
}

func buildSubtitle(res backtest.Result) string {
	return fmt.Sprintf("ROI %.2f%% | MDD %.2f%% | 交易 %d 笔 | 降级 %d / 升级 %d",
		res.RealROI, res.MDDReal, res.TotalTrades, res.Demotions, res.Promotions)
}

// buildMarkerScatter 把事件标记对齐到最近的 K 线索引上。
func buildMarkerScatter(candles []market.Candle, markers []backtest.Marker) *charts.Scatter {
	entries := make([]opts.ScatterData, len(candles))
	exits := make([]opts.ScatterData, len(candles))
	switches := make([]opts.ScatterData, len(candles))
	for _, m := range markers {
		idx := candleIndex(candles, m.Time)
		if idx < 0 {
			continue
		}
		point := opts.ScatterData{Value: round(m.Price, 4), SymbolSize: 12}
		switch m.Type {
		case backtest.MarkerEntry:
			point.Symbol = "triangle"
			entries[idx] = point
		case backtest.MarkerExit:
			point.Symbol = "diamond"
			exits[idx] = point
		case backtest.MarkerModeSwitch:
			point.Symbol = "pin"
			point.SymbolSize = 18
			switches[idx] = point
		}
	}
	scatter := charts.NewScatter()
	scatter.AddSeries("进场", entries, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorEntry}))
	scatter.AddSeries("出场", exits, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorExit}))
	scatter.AddSeries("模式切换", switches, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorModeSwitch}))
	return scatter
}

// candleIndex 返回 open_time 不晚于 ts 的最后一根 K 线索引。
func candleIndex(candles []market.Candle, ts int64) int {
	lo, hi := 0, len(candles)-1
	if hi < 0 || ts < candles[0].OpenTime {
		return -1
	}
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if candles[mid].OpenTime <= ts {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func buildEquityChart(input Input) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", equityHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "资金曲线", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextSecondary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	real := input.Result.EquityReal
	shadow := input.Result.EquityShadow
	x := make([]string, len(real))
	realData := make([]opts.LineData, len(real))
	for i, pt := range real {
		x[i] = time.UnixMilli(pt.Time).UTC().Format("01-02 15:04")
		realData[i] = opts.LineData{Value: round(pt.Value, 2)}
	}
	shadowData := make([]opts.LineData, len(real))
	for i := range shadowData {
		if i < len(shadow) {
			shadowData[i] = opts.LineData{Value: round(shadow[i].Value, 2)}
		} else {
			shadowData[i] = opts.LineData{Value: nil}
		}
	}
	line.SetXAxis(x)
	line.AddSeries("实盘", realData, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquityReal, Width: 2}))
	line.AddSeries("影子", shadowData, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquityShadow, Width: 2}))
	return line
}

func buildXAxis(candles []market.Candle) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.OpenTime).UTC().Format("01-02 15:04")
	}
	return x
}

func priceBounds(candles []market.Candle) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low.InexactFloat64()
	maxVal = candles[0].High.InexactFloat64()
	for _, c := range candles {
		if v := c.Low.InexactFloat64(); v < minVal {
			minVal = v
		}
		if v := c.High.InexactFloat64(); v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
