package estimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"hospital-queue/internal/models"
	"hospital-queue/internal/predictor"

	"go.uber.org/zap"
)

// DefaultServiceTime 既没有绑定设备也没有检查项目时使用的服务时长（分钟）
const DefaultServiceTime = 15

// Formula 实际使用的融合公式
type Formula string

const (
	FormulaFull       Formula = "historical+base+forecast"
	FormulaForecast   Formula = "base+forecast"
	FormulaHistorical Formula = "historical+base"
	FormulaBase       Formula = "base"
)

// PositionSource 排队位置
type PositionSource interface {
	Position(ctx context.Context, entry *models.QueueEntry) (int, error)
}

// PredictorSource 预测器解析（按作用域顺序，第一个存在的生效）
type PredictorSource interface {
	Resolve(scopes ...predictor.Scope) *predictor.Handle
}

// ReferenceSource 设备 / 检查项目查询
type ReferenceSource interface {
	GetExamination(ctx context.Context, id string) (*models.Examination, error)
	GetEquipment(ctx context.Context, id string) (*models.Equipment, error)
	CountAvailableEquipment(ctx context.Context, departmentID string) (int, error)
}

// StatsSource 历史与在诊统计
type StatsSource interface {
	AverageActualWait(ctx context.Context, examinationID string, since time.Time) (float64, int, error)
	CountInService(ctx context.Context, departmentID string) (int, error)
}

// Config 估算器配置
type Config struct {
	Weights       Weights
	HistoryWindow time.Duration // 历史平均的回溯窗口
}

// DefaultConfig 默认配置（30 天窗口）
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), HistoryWindow: 30 * 24 * time.Hour}
}

// Breakdown 一次估算的中间量，便于排查
type Breakdown struct {
	Ahead          int      `json:"ahead"`
	ServiceTime    float64  `json:"service_time"`
	Base           float64  `json:"base"`
	Historical     *float64 `json:"historical,omitempty"`
	Forecast       *float64 `json:"forecast,omitempty"`
	ForecastScope  string   `json:"forecast_scope,omitempty"`
	Formula        Formula  `json:"formula"`
	Blended        float64  `json:"blended"`
	PriorityFactor float64  `json:"priority_factor"`
	CapacityFactor float64  `json:"capacity_factor"`
	Minutes        int      `json:"minutes"`
}

// Estimator 等待时间估算器，只读不写
type Estimator struct {
	positions  PositionSource
	predictors PredictorSource
	refs       ReferenceSource
	stats      StatsSource
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// NewEstimator 创建估算器
func NewEstimator(positions PositionSource, predictors PredictorSource, refs ReferenceSource, stats StatsSource, cfg Config, logger *zap.Logger) *Estimator {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultConfig().HistoryWindow
	}
	return &Estimator{
		positions:  positions,
		predictors: predictors,
		refs:       refs,
		stats:      stats,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Estimate 预计等待分钟数（≥ 0）
func (e *Estimator) Estimate(ctx context.Context, entry *models.QueueEntry) (int, error) {
	b, err := e.Explain(ctx, entry)
	if err != nil {
		return 0, err
	}
	return b.Minutes, nil
}

// Explain 估算并返回中间量
// 历史、预测、容量数据缺失时逐级降级并记录日志；
// 只有排队位置或服务时长无法确定时返回错误。
func (e *Estimator) Explain(ctx context.Context, entry *models.QueueEntry) (*Breakdown, error) {
	w := e.cfg.Weights
	now := e.now()
	log := e.logger.With(zap.String("entry_id", entry.ID), zap.String("department_id", entry.DepartmentID))

	position, err := e.positions.Position(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve position: %w", err)
	}
	ahead := 0
	if position > 0 {
		ahead = position - 1
	}

	serviceTime, err := e.serviceTime(ctx, entry)
	if err != nil {
		return nil, err
	}

	b := &Breakdown{
		Ahead:       ahead,
		ServiceTime: serviceTime,
		Base:        float64(ahead) * serviceTime,
	}

	b.Forecast, b.ForecastScope = e.forecast(entry, now, ahead, log)
	b.Historical = e.historical(ctx, entry, now, log)

	b.Blended, b.Formula = w.Blend(b.Base, b.Historical, b.Forecast)
	b.PriorityFactor = w.PriorityFactor(entry.Priority)
	adjusted := b.Blended * b.PriorityFactor

	b.CapacityFactor = e.capacityFactor(ctx, entry, log)
	adjusted *= b.CapacityFactor

	adjusted = math.Max(serviceTime*w.ServiceFloor, adjusted)
	b.Minutes = int(math.Max(math.Round(adjusted), 0))
	return b, nil
}

// serviceTime 绑定设备时用设备平均服务时长，否则用检查项目标准时长
func (e *Estimator) serviceTime(ctx context.Context, entry *models.QueueEntry) (float64, error) {
	if entry.EquipmentID != nil && *entry.EquipmentID != "" {
		eq, err := e.refs.GetEquipment(ctx, *entry.EquipmentID)
		if err != nil {
			return 0, fmt.Errorf("failed to load equipment %s: %w", *entry.EquipmentID, err)
		}
		if eq.AverageServiceTime > 0 {
			return float64(eq.AverageServiceTime), nil
		}
	}
	if entry.ExaminationID != nil && *entry.ExaminationID != "" {
		exam, err := e.refs.GetExamination(ctx, *entry.ExaminationID)
		if err != nil {
			return 0, fmt.Errorf("failed to load examination %s: %w", *entry.ExaminationID, err)
		}
		if exam.Duration > 0 {
			return float64(exam.Duration), nil
		}
		return 0, fmt.Errorf("examination %s has no duration: %w", exam.ID, models.ErrDataUnavailable)
	}
	return DefaultServiceTime, nil
}

func (e *Estimator) forecast(entry *models.QueueEntry, now time.Time, ahead int, log *zap.Logger) (*float64, string) {
	if e.predictors == nil {
		return nil, ""
	}
	examID := ""
	if entry.ExaminationID != nil {
		examID = *entry.ExaminationID
	}
	h := e.predictors.Resolve(predictor.FallbackChain(examID, entry.DepartmentID)...)
	if h == nil {
		log.Debug("No predictor for entry scope, forecast absent")
		return nil, ""
	}
	v, err := h.Predict(predictor.Features{At: now, Ahead: ahead})
	if err != nil {
		log.Warn("Prediction failed, forecast absent",
			zap.String("scope", h.Scope.String()),
			zap.Error(err),
		)
		return nil, ""
	}
	return &v, h.Scope.String()
}

func (e *Estimator) historical(ctx context.Context, entry *models.QueueEntry, now time.Time, log *zap.Logger) *float64 {
	if entry.ExaminationID == nil || *entry.ExaminationID == "" {
		return nil
	}
	avg, n, err := e.stats.AverageActualWait(ctx, *entry.ExaminationID, now.Add(-e.cfg.HistoryWindow))
	if err != nil {
		log.Warn("Failed to load historical average, ignoring",
			zap.Error(fmt.Errorf("%w: %v", models.ErrDataUnavailable, err)),
		)
		return nil
	}
	if n == 0 || avg <= 0 {
		return nil
	}
	return &avg
}

func (e *Estimator) capacityFactor(ctx context.Context, entry *models.QueueEntry, log *zap.Logger) float64 {
	available, err := e.refs.CountAvailableEquipment(ctx, entry.DepartmentID)
	if err != nil {
		log.Warn("Failed to count available equipment, skipping capacity relief", zap.Error(err))
		return 1
	}
	if available == 0 {
		return 1
	}
	inService, err := e.stats.CountInService(ctx, entry.DepartmentID)
	if err != nil {
		log.Warn("Failed to count in-service entries, skipping capacity relief", zap.Error(err))
		return 1
	}
	return e.cfg.Weights.CapacityFactor(available, inService)
}

// IsDataError 估算失败是否由关联数据缺失/损坏引起（而非基础设施故障）
func IsDataError(err error) bool {
	return errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrDataUnavailable)
}
