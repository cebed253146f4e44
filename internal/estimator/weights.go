package estimator

// Weights 融合权重与调整系数
// 数值来自线上经验调参，允许通过配置覆盖
type Weights struct {
	// 历史 + 预测 + 基础
	FullHistorical float64
	FullBase       float64
	FullForecast   float64
	// 仅预测
	ForecastBase     float64
	ForecastForecast float64
	// 仅历史
	HistoricalHistorical float64
	HistoricalBase       float64

	PriorityStep   float64 // 每级优先级的折扣
	PriorityFloor  float64 // 优先级系数下限
	CapacityRelief float64 // 空闲产能最多减免的比例
	ServiceFloor   float64 // 结果不低于 serviceTime * ServiceFloor
}

// DefaultWeights 默认权重
func DefaultWeights() Weights {
	return Weights{
		FullHistorical:       0.2,
		FullBase:             0.4,
		FullForecast:         0.4,
		ForecastBase:         0.6,
		ForecastForecast:     0.4,
		HistoricalHistorical: 0.3,
		HistoricalBase:       0.7,
		PriorityStep:         0.2,
		PriorityFloor:        0.2,
		CapacityRelief:       0.5,
		ServiceFloor:         0.5,
	}
}

// Blend 按数据可用性融合；historical / forecast 为 nil 表示缺失
func (w Weights) Blend(base float64, historical, forecast *float64) (float64, Formula) {
	switch {
	case historical != nil && forecast != nil:
		return w.FullHistorical**historical + w.FullBase*base + w.FullForecast**forecast, FormulaFull
	case forecast != nil:
		return w.ForecastBase*base + w.ForecastForecast**forecast, FormulaForecast
	case historical != nil:
		return w.HistoricalHistorical**historical + w.HistoricalBase*base, FormulaHistorical
	default:
		return base, FormulaBase
	}
}

// PriorityFactor max(1 - priority*step, floor)
func (w Weights) PriorityFactor(priority int) float64 {
	f := 1 - float64(priority)*w.PriorityStep
	if f < w.PriorityFloor {
		return w.PriorityFloor
	}
	return f
}

// CapacityFactor 设备空闲时的减免系数：
// available > 0 且 inService < available 时为 max(1 - spare/available*relief, 1-relief)，否则为 1
func (w Weights) CapacityFactor(available, inService int) float64 {
	if available <= 0 || inService >= available {
		return 1
	}
	spare := float64(available-inService) / float64(available)
	f := 1 - spare*w.CapacityRelief
	if lo := 1 - w.CapacityRelief; f < lo {
		return lo
	}
	return f
}
