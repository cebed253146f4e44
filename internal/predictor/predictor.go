package predictor

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrModelLoad 制品损坏或不兼容，该作用域视为缺失
	ErrModelLoad = errors.New("model load failed")
	// ErrModelPrediction 推理时失败，本次调用视为没有预测
	ErrModelPrediction = errors.New("model prediction failed")
)

// Features 推理输入
type Features struct {
	At    time.Time // 预测时间点
	Ahead int       // 前面等待的人数
}

// Predictor 等待时间预测能力，返回分钟数
type Predictor interface {
	Predict(f Features) (float64, error)
}

// Handle 绑定到作用域的已校验预测器；Kind 仅用于诊断
type Handle struct {
	Scope    Scope     `json:"scope"`
	Kind     string    `json:"kind"`
	Version  string    `json:"version"`
	LoadedAt time.Time `json:"loaded_at"`

	predictor Predictor
}

// NewHandle 包装一个 Predictor
func NewHandle(scope Scope, kind, version string, p Predictor) *Handle {
	return &Handle{Scope: scope, Kind: kind, Version: version, LoadedAt: time.Now(), predictor: p}
}

// Predict 调用底层模型；panic、NaN、负数等异常统一转成 ErrModelPrediction
func (h *Handle) Predict(f Features) (minutes float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			minutes, err = 0, fmt.Errorf("%w: %s (%s): panic: %v", ErrModelPrediction, h.Scope, h.Kind, r)
		}
	}()

	v, err := h.predictor.Predict(f)
	if err != nil {
		return 0, fmt.Errorf("%w: %s (%s): %v", ErrModelPrediction, h.Scope, h.Kind, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s (%s): non-finite output", ErrModelPrediction, h.Scope, h.Kind)
	}
	return math.Max(v, 0), nil
}
