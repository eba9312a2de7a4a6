package backtest

// Result 汇总一次回测的资金、交易与事件输出。
type Result struct {
	InitialCapital     float64 `json:"initial_capital"`
	FinalRealCapital   float64 `json:"final_real_capital"`
	FinalShadowCapital float64 `json:"final_shadow_capital"`

	Trades  []Trade  `json:"trades"`
	Markers []Marker `json:"markers"`

	EquityReal   []EquityPoint `json:"equity_real"`
	EquityShadow []EquityPoint `json:"equity_shadow"`

	TotalTrades   int `json:"total_trades"`
	RealTrades    int `json:"real_trades"`
	ShadowTrades  int `json:"shadow_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`

	RealROI   float64 `json:"real_roi"`
	ShadowROI float64 `json:"shadow_roi"`
	MDDReal   float64 `json:"mdd_real"`
	MDDShadow float64 `json:"mdd_shadow"`

	Demotions  int `json:"demotions"`
	Promotions int `json:"promotions"`

	OpenPosition *Position `json:"open_position,omitempty"`
}

// WinRate 返回胜率（%）。
func (r Result) WinRate() float64 {
	if r.TotalTrades == 0 {
		return 0
	}
	return float64(r.WinningTrades) / float64(r.TotalTrades) * 100
}

// maxDrawdown 计算资金曲线的最大回撤比例（0~1）。
func maxDrawdown(points []EquityPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	peak := points[0].Value
	maxDD := 0.0
	for _, pt := range points {
		if pt.Value > peak {
			peak = pt.Value
		}
		if peak > 0 {
			dd := (peak - pt.Value) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func (e *Engine) buildResult() Result {
	winning, losing, realCnt, shadowCnt := 0, 0, 0, 0
	for _, tr := range e.trades {
		if tr.NetPnL > 0 {
			winning++
		} else {
			losing++
		}
		if tr.Mode == ModeReal {
			realCnt++
		} else {
			shadowCnt++
		}
	}
	var openCopy *Position
	if e.pos != nil {
		c := *e.pos
		openCopy = &c
	}
	return Result{
		InitialCapital:     e.initialCapital,
		FinalRealCapital:   e.realCapital,
		FinalShadowCapital: e.shadowCapital,
		Trades:             append([]Trade{}, e.trades...),
		Markers:            append([]Marker{}, e.markers...),
		EquityReal:         append([]EquityPoint{}, e.equityReal...),
		EquityShadow:       append([]EquityPoint{}, e.equityShadow...),
		TotalTrades:        len(e.trades),
		RealTrades:         realCnt,
		ShadowTrades:       shadowCnt,
		WinningTrades:      winning,
		LosingTrades:       losing,
		RealROI:            (e.realCapital - e.initialCapital) / e.initialCapital * 100,
		ShadowROI:          (e.shadowCapital - shadowBaseline) / shadowBaseline * 100,
		MDDReal:            maxDrawdown(e.equityReal) * 100,
		MDDShadow:          maxDrawdown(e.equityShadow) * 100,
		Demotions:          e.demotions,
		Promotions:         e.promotions,
		OpenPosition:       openCopy,
	}
}
