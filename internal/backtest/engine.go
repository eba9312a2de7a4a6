package backtest

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"crossbt/internal/market"
)

const shadowBaseline = 10000.0

// Engine 是 EMA 交叉双模式回测引擎：趋势过滤 + 入场交叉开仓，
// 出场交叉/追踪止损平仓；实盘回撤触发降级后转入影子账户继续跟踪，
// 影子账户回升到位再升级回实盘。
type Engine struct {
	p              Params
	initialCapital float64

	realCapital   float64
	realPeak      float64
	shadowCapital float64
	shadowTrough  float64
	realMode      bool

	pos     *Position
	trades  []Trade
	markers []Marker

	equityReal   []EquityPoint
	equityShadow []EquityPoint

	demotions  int
	promotions int
}

func NewEngine(p Params, initialCapital float64) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if initialCapital <= 0 {
		return nil, fmt.Errorf("初始资金必须为正数: %v", initialCapital)
	}
	e := &Engine{p: p, initialCapital: initialCapital}
	e.reset()
	return e, nil
}

func (e *Engine) reset() {
	e.realCapital = e.initialCapital
	e.realPeak = e.initialCapital
	e.shadowCapital = shadowBaseline
	e.shadowTrough = shadowBaseline
	e.realMode = true
	e.pos = nil
	e.trades = nil
	e.markers = nil
	e.equityReal = nil
	e.equityShadow = nil
	e.demotions = 0
	e.promotions = 0
}

type emaSet struct {
	trendFast, trendSlow   []float64
	entryFast, entrySlow   []float64
	longExitF, longExitS   []float64
	shortExitF, shortExitS []float64
}

func computeEMAs(closes []float64, p Params) emaSet {
	return emaSet{
		trendFast:  talib.Ema(closes, p.TrendFast),
		trendSlow:  talib.Ema(closes, p.TrendSlow),
		entryFast:  talib.Ema(closes, p.EntryFast),
		entrySlow:  talib.Ema(closes, p.EntrySlow),
		longExitF:  talib.Ema(closes, p.LongExitFast),
		longExitS:  talib.Ema(closes, p.LongExitSlow),
		shortExitF: talib.Ema(closes, p.ShortExitFast),
		shortExitS: talib.Ema(closes, p.ShortExitSlow),
	}
}

func crossUp(prevFast, prevSlow, currFast, currSlow float64) bool {
	return prevFast <= prevSlow && currFast > currSlow
}

func crossDown(prevFast, prevSlow, currFast, currSlow float64) bool {
	return prevFast >= prevSlow && currFast < currSlow
}

// Run 在给定 K 线序列上执行回测。序列必须按 OpenTime 严格递增，
// 且长度要能覆盖最慢的 EMA 窗口。
func (e *Engine) Run(candles []market.Candle) (Result, error) {
	if err := market.ValidateSeries(candles); err != nil {
		return Result{}, err
	}
	startIdx := e.p.warmupBars()
	if len(candles) <= startIdx+2 {
		return Result{}, fmt.Errorf("数据太短: %d 根，至少需要 %d 根", len(candles), startIdx+3)
	}
	e.reset()

	closes := market.Closes(candles)
	emas := computeEMAs(closes, e.p)

	e.recordEquity(candles[startIdx].OpenTime)

	for i := startIdx + 1; i < len(candles); i++ {
		t := candles[i].OpenTime
		price := closes[i]
		e.onBar(barInput{
			time:  t,
			close: price,

			trendFast: emas.trendFast[i],
			trendSlow: emas.trendSlow[i],

			prevEntryFast: emas.entryFast[i-1],
			prevEntrySlow: emas.entrySlow[i-1],
			currEntryFast: emas.entryFast[i],
			currEntrySlow: emas.entrySlow[i],

			prevLongExitFast: emas.longExitF[i-1],
			prevLongExitSlow: emas.longExitS[i-1],
			currLongExitFast: emas.longExitF[i],
			currLongExitSlow: emas.longExitS[i],

			prevShortExitFast: emas.shortExitF[i-1],
			prevShortExitSlow: emas.shortExitS[i-1],
			currShortExitFast: emas.shortExitF[i],
			currShortExitSlow: emas.shortExitS[i],
		})
		e.recordEquity(t)
	}

	return e.buildResult(), nil
}

type barInput struct {
	time  int64
	close float64

	trendFast, trendSlow float64

	prevEntryFast, prevEntrySlow float64
	currEntryFast, currEntrySlow float64

	prevLongExitFast, prevLongExitSlow float64
	currLongExitFast, currLongExitSlow float64

	prevShortExitFast, prevShortExitSlow float64
	currShortExitFast, currShortExitSlow float64
}

func (e *Engine) onBar(in barInput) {
	e.checkModeSwitch(in.time, in.close)

	if e.pos != nil {
		if e.pos.Side == SideLong {
			if in.close > e.pos.PeakPrice {
				e.pos.PeakPrice = in.close
			}
		} else if in.close < e.pos.TroughPrice {
			e.pos.TroughPrice = in.close
		}
	}

	longTrendOK := in.trendFast > in.trendSlow
	shortTrendOK := in.trendFast < in.trendSlow
	longEntry := longTrendOK && crossUp(in.prevEntryFast, in.prevEntrySlow, in.currEntryFast, in.currEntrySlow)
	shortEntry := !e.p.LongOnly && shortTrendOK && crossDown(in.prevEntryFast, in.prevEntrySlow, in.currEntryFast, in.currEntrySlow)

	// 反手：持多遇空信号（或反之）先平再开。
	if e.pos != nil && !e.p.LongOnly {
		if e.pos.Side == SideLong && shortEntry {
			e.closePosition(in.time, in.close, "reverse_to_short")
			e.openPosition(SideShort, in.time, in.close)
			e.checkModeSwitch(in.time, in.close)
			return
		}
		if e.pos.Side == SideShort && longEntry {
			e.closePosition(in.time, in.close, "reverse_to_long")
			e.openPosition(SideLong, in.time, in.close)
			e.checkModeSwitch(in.time, in.close)
			return
		}
	}

	if e.pos != nil {
		if e.pos.Side == SideLong {
			if crossDown(in.prevLongExitFast, in.prevLongExitSlow, in.currLongExitFast, in.currLongExitSlow) {
				e.closePosition(in.time, in.close, "ema_dead_cross")
				e.checkModeSwitch(in.time, in.close)
				return
			}
			stop := e.pos.PeakPrice * (1 - e.p.TrailingStopLong)
			if in.close <= stop {
				e.closePosition(in.time, in.close, "trailing_stop")
				e.checkModeSwitch(in.time, in.close)
				return
			}
		} else {
			if crossUp(in.prevShortExitFast, in.prevShortExitSlow, in.currShortExitFast, in.currShortExitSlow) {
				e.closePosition(in.time, in.close, "ema_golden_cross")
				e.checkModeSwitch(in.time, in.close)
				return
			}
			stop := e.pos.TroughPrice * (1 + e.p.TrailingStopShort)
			if in.close >= stop {
				e.closePosition(in.time, in.close, "trailing_stop")
				e.checkModeSwitch(in.time, in.close)
				return
			}
		}
	}

	if e.pos == nil {
		if longEntry {
			e.openPosition(SideLong, in.time, in.close)
			e.checkModeSwitch(in.time, in.close)
			return
		}
		if shortEntry {
			e.openPosition(SideShort, in.time, in.close)
			e.checkModeSwitch(in.time, in.close)
			return
		}
	}

	if !e.realMode && e.shadowCapital < e.shadowTrough {
		e.shadowTrough = e.shadowCapital
	}
	e.checkModeSwitch(in.time, in.close)
}

func (e *Engine) mode() Mode {
	if e.realMode {
		return ModeReal
	}
	return ModeShadow
}

func (e *Engine) currentCapital() float64 {
	if e.realMode {
		return e.realCapital
	}
	return e.shadowCapital
}

func (e *Engine) openPosition(side Side, t int64, price float64) {
	cap := e.currentCapital()
	effective := cap * e.p.CapitalUseRatio
	lev := e.p.LeverageLong
	if side == SideShort {
		lev = e.p.LeverageShort
	}
	notional := effective * lev
	size := notional / price

	e.pos = &Position{
		Side:          side,
		Mode:          e.mode(),
		EntryTime:     t,
		EntryPrice:    price,
		Size:          size,
		Leverage:      lev,
		PeakPrice:     price,
		TroughPrice:   price,
		EntryCapital:  cap,
		EntryNotional: notional,
	}
	e.markers = append(e.markers, Marker{
		Time: t, Price: price, Type: MarkerEntry,
		Side: side, Mode: e.mode(), Reason: string(side) + " 进场",
	})
}

func (e *Engine) closePosition(t int64, price float64, reason string) {
	if e.pos == nil {
		return
	}
	pos := e.pos

	var pnl float64
	if pos.Side == SideLong {
		pnl = (price - pos.EntryPrice) * pos.Size
	} else {
		pnl = (pos.EntryPrice - price) * pos.Size
	}
	fee := pos.EntryNotional * e.p.FeeRatePerSide * 2
	net := pnl - fee

	if pos.Mode == ModeReal {
		e.realCapital += net
		if e.realCapital > e.realPeak {
			e.realPeak = e.realCapital
		}
	} else {
		e.shadowCapital += net
		if e.shadowCapital < e.shadowTrough {
			e.shadowTrough = e.shadowCapital
		}
	}

	after := e.realCapital
	if pos.Mode == ModeShadow {
		after = e.shadowCapital
	}
	e.trades = append(e.trades, Trade{
		Side:             pos.Side,
		Mode:             pos.Mode,
		EntryTime:        pos.EntryTime,
		EntryPrice:       pos.EntryPrice,
		ExitTime:         t,
		ExitPrice:        price,
		Size:             pos.Size,
		Leverage:         pos.Leverage,
		ExitReason:       reason,
		PnL:              pnl,
		Fee:              fee,
		NetPnL:           net,
		EntryCapital:     pos.EntryCapital,
		EntryNotional:    pos.EntryNotional,
		ExitCapitalAfter: after,
	})
	e.markers = append(e.markers, Marker{
		Time: t, Price: price, Type: MarkerExit,
		Side: pos.Side, Mode: pos.Mode, Reason: reason,
	})
	e.pos = nil
}

// sharedThresholds 返回实际生效的降级/回升阈值。
func (e *Engine) sharedThresholds() (stopLoss, reentry float64) {
	if e.p.ConservativeSharedThresholds {
		stopLoss = min(e.p.StopLossRatioLong, e.p.StopLossRatioShort)
		reentry = min(e.p.ReentryGainRatioLong, e.p.ReentryGainRatioShort)
		return
	}
	return e.p.StopLossRatioLong, e.p.ReentryGainRatioLong
}

func (e *Engine) checkModeSwitch(t int64, price float64) {
	stopLoss, reentry := e.sharedThresholds()
	if e.realMode {
		if e.realCapital <= e.realPeak*(1-stopLoss) {
			e.demote(t, price)
		}
	} else if e.shadowCapital >= e.shadowTrough*(1+reentry) {
		e.promote(t, price)
	}
}

// demote 实盘回撤触顶，降级为影子模式继续跟踪。
func (e *Engine) demote(t int64, price float64) {
	e.demotions++
	e.realMode = false
	e.shadowCapital = shadowBaseline
	e.shadowTrough = shadowBaseline
	if e.p.ResetRealPeakOnDemote {
		e.realPeak = e.realCapital
	}
	e.markers = append(e.markers, Marker{
		Time: t, Price: price, Type: MarkerModeSwitch,
		Mode: ModeShadow, Reason: "实盘回撤触发降级",
	})
}

// promote 影子账户回升到位，重新升级为实盘模式。
func (e *Engine) promote(t int64, price float64) {
	e.promotions++
	e.realMode = true
	e.shadowCapital = shadowBaseline
	e.shadowTrough = shadowBaseline
	if e.p.ResetRealPeakOnPromote {
		e.realPeak = e.realCapital
	}
	e.markers = append(e.markers, Marker{
		Time: t, Price: price, Type: MarkerModeSwitch,
		Mode: ModeReal, Reason: "影子账户回升升级",
	})
}

func (e *Engine) recordEquity(t int64) {
	e.equityReal = append(e.equityReal, EquityPoint{Time: t, Value: e.realCapital})
	e.equityShadow = append(e.equityShadow, EquityPoint{Time: t, Value: e.shadowCapital})
}
