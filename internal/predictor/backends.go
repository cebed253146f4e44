package predictor

import (
	"encoding/json"
	"fmt"
	"sync"
)

// 内置模型类型
const (
	KindLinear        = "linear"
	KindHourlyProfile = "hourly_profile"
	KindConstant      = "constant"
)

// Decoder 把制品参数解码成 Predictor
type Decoder func(params json.RawMessage) (Predictor, error)

var (
	decodersMu sync.RWMutex
	decoders   = map[string]Decoder{
		KindLinear:        decodeLinear,
		KindHourlyProfile: decodeHourlyProfile,
		KindConstant:      decodeConstant,
	}
)

// RegisterKind 注册额外的模型类型（同名覆盖）
func RegisterKind(kind string, d Decoder) {
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[kind] = d
}

func decoderFor(kind string) (Decoder, bool) {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	d, ok := decoders[kind]
	return d, ok
}

// LinearModel 线性回归：
// intercept + ahead*AheadCoef + HourCoef[hour] + WeekdayCoef[weekday] + weekend*WeekendCoef
type LinearModel struct {
	Intercept   float64   `json:"intercept"`
	AheadCoef   float64   `json:"ahead_coef"`
	HourCoef    []float64 `json:"hour_coef,omitempty"`    // 长度 0 或 24
	WeekdayCoef []float64 `json:"weekday_coef,omitempty"` // 长度 0 或 7，Sunday = 0
	WeekendCoef float64   `json:"weekend_coef"`
}

func (m *LinearModel) Predict(f Features) (float64, error) {
	y := m.Intercept + m.AheadCoef*float64(f.Ahead)
	if len(m.HourCoef) == 24 {
		y += m.HourCoef[f.At.Hour()]
	}
	wd := int(f.At.Weekday())
	if len(m.WeekdayCoef) == 7 {
		y += m.WeekdayCoef[wd]
	}
	if wd == 0 || wd == 6 {
		y += m.WeekendCoef
	}
	return y, nil
}

func decodeLinear(params json.RawMessage) (Predictor, error) {
	var m LinearModel
	if err := json.Unmarshal(params, &m); err != nil {
		return nil, err
	}
	if n := len(m.HourCoef); n != 0 && n != 24 {
		return nil, fmt.Errorf("hour_coef must have 24 values, got %d", n)
	}
	if n := len(m.WeekdayCoef); n != 0 && n != 7 {
		return nil, fmt.Errorf("weekday_coef must have 7 values, got %d", n)
	}
	return &m, nil
}

// HourlyProfileModel 按 (星期, 小时) 的季节性基线 + 队列长度斜率
// Profile 以 weekday（Sunday = 0）为键，每个值 24 个小时槽位
type HourlyProfileModel struct {
	Profile   map[int][]float64 `json:"profile"`
	Fallback  *float64          `json:"fallback,omitempty"` // 槽位缺失时使用
	AheadCoef float64           `json:"ahead_coef"`
}

func (m *HourlyProfileModel) Predict(f Features) (float64, error) {
	base, ok := m.slot(int(f.At.Weekday()), f.At.Hour())
	if !ok {
		if m.Fallback == nil {
			return 0, fmt.Errorf("no profile for %s %02d:00", f.At.Weekday(), f.At.Hour())
		}
		base = *m.Fallback
	}
	return base + m.AheadCoef*float64(f.Ahead), nil
}

func (m *HourlyProfileModel) slot(weekday, hour int) (float64, bool) {
	hours, ok := m.Profile[weekday]
	if !ok || len(hours) != 24 {
		return 0, false
	}
	return hours[hour], true
}

func decodeHourlyProfile(params json.RawMessage) (Predictor, error) {
	var m HourlyProfileModel
	if err := json.Unmarshal(params, &m); err != nil {
		return nil, err
	}
	if len(m.Profile) == 0 && m.Fallback == nil {
		return nil, fmt.Errorf("empty profile")
	}
	for wd, hours := range m.Profile {
		if wd < 0 || wd > 6 {
			return nil, fmt.Errorf("weekday %d out of range", wd)
		}
		if len(hours) != 24 {
			return nil, fmt.Errorf("weekday %d: expected 24 hourly values, got %d", wd, len(hours))
		}
	}
	return &m, nil
}

// ConstantModel 固定值（训练样本过少时流水线会发布这种模型）
type ConstantModel struct {
	Minutes float64 `json:"minutes"`
}

func (m *ConstantModel) Predict(Features) (float64, error) {
	return m.Minutes, nil
}

func decodeConstant(params json.RawMessage) (Predictor, error) {
	var m ConstantModel
	if err := json.Unmarshal(params, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
