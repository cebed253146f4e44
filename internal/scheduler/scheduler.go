package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hospital-queue/internal/estimator"
	"hospital-queue/internal/models"
	"hospital-queue/internal/notifier"

	"go.uber.org/zap"
)

// 默认参数
const (
	DefaultSignificantDelta = 5
	DefaultExpireAfter      = 24 * time.Hour
)

// EntryStore 调度器需要的存储能力
type EntryStore interface {
	GetEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	ListEntries(ctx context.Context, f models.EntryFilter) ([]*models.QueueEntry, error)
	UpdateEstimatedWait(ctx context.Context, id string, minutes int) error
}

// WaitEstimator 等待时间估算
type WaitEstimator interface {
	Estimate(ctx context.Context, entry *models.QueueEntry) (int, error)
}

// Transitioner 状态迁移（过期取消走状态机，保证写入历史快照）
type Transitioner interface {
	Transition(ctx context.Context, id string, to models.EntryStatus, note string) (*models.QueueEntry, error)
}

// Notifier 变化通知
type Notifier interface {
	Notify(ctx context.Context, event models.ChangeEvent) error
}

// Config 调度参数
type Config struct {
	SignificantDelta int           // 变化超过该分钟数才通知，0 表示任何变化都通知
	ExpireAfter      time.Duration // waiting 超过该时长视为过期
}

// DefaultConfig 默认调度参数
func DefaultConfig() Config {
	return Config{SignificantDelta: DefaultSignificantDelta, ExpireAfter: DefaultExpireAfter}
}

// SweepResult 一次全量重算的统计
type SweepResult struct {
	Scanned      int `json:"scanned"`
	Updated      int `json:"updated"`
	Notified     int `json:"notified"`
	Suppressed   int `json:"suppressed"`
	Failed       int `json:"failed"`
	NotifyFailed int `json:"notify_failed"`
}

// Outcome 单条重算结果
type Outcome struct {
	EntryID     string `json:"entry_id"`
	OldEstimate int    `json:"old_estimate"`
	NewEstimate int    `json:"new_estimate"`
	Updated     bool   `json:"updated"`
	Notified    bool   `json:"notified"`
	Suppressed  bool   `json:"suppressed"`
}

// ExpireResult 一次过期清理的统计
type ExpireResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// DelayResult 一次超时检查的统计
type DelayResult struct {
	Scanned      int `json:"scanned"`
	Delayed      int `json:"delayed"`
	Notified     int `json:"notified"`
	Suppressed   int `json:"suppressed"`
	NotifyFailed int `json:"notify_failed"`
}

// Scheduler 等待时间重算与过期清理
// 每次调用执行完即返回，周期由外部驱动
type Scheduler struct {
	store       EntryStore
	estimator   WaitEstimator
	transitions Transitioner
	notifier    Notifier
	cfg         Config
	logger      *zap.Logger
	now         func() time.Time
}

// NewScheduler 创建调度器
func NewScheduler(store EntryStore, estimator WaitEstimator, transitions Transitioner, notifier Notifier, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.SignificantDelta < 0 {
		cfg.SignificantDelta = DefaultSignificantDelta
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = DefaultExpireAfter
	}
	return &Scheduler{
		store:       store,
		estimator:   estimator,
		transitions: transitions,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// Sweep 重算所有 waiting 记录（departmentID 为空时不限科室）
// 单条失败只记录并跳过；只有列表读取失败才返回错误
func (s *Scheduler) Sweep(ctx context.Context, departmentID string) (SweepResult, error) {
	var result SweepResult

	entries, err := s.store.ListEntries(ctx, models.EntryFilter{
		DepartmentID: departmentID,
		Statuses:     []models.EntryStatus{models.StatusWaiting},
	})
	if err != nil {
		return result, fmt.Errorf("failed to list waiting entries: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		result.Scanned++

		out, err := s.recalculate(ctx, entry)
		if err != nil {
			result.Failed++
			s.logger.Error("Failed to recalculate wait time",
				zap.String("entry_id", entry.ID),
				zap.String("queue_number", entry.QueueNumber),
				zap.Bool("data_error", estimator.IsDataError(err)),
				zap.Error(err),
			)
			continue
		}
		if out.Updated {
			result.Updated++
		}
		switch {
		case out.Notified:
			result.Notified++
		case out.Suppressed:
			result.Suppressed++
		case out.notifyErr != nil:
			result.NotifyFailed++
		}
	}

	s.logger.Info("Completed wait time sweep",
		zap.String("department_id", departmentID),
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
		zap.Int("notified", result.Notified),
		zap.Int("suppressed", result.Suppressed),
		zap.Int("error_count", result.Failed),
	)
	return result, ctx.Err()
}

// RecalculateOne 重算单条记录；非 waiting 状态返回 models.ErrValidation
func (s *Scheduler) RecalculateOne(ctx context.Context, entryID string) (*Outcome, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.StatusWaiting {
		return nil, fmt.Errorf("%w: entry %s is %s", models.ErrValidation, entry.ID, entry.Status)
	}
	out, err := s.recalculate(ctx, entry)
	if err != nil {
		return nil, err
	}
	return &out.Outcome, nil
}

type recalcOutcome struct {
	Outcome
	notifyErr error
}

func (s *Scheduler) recalculate(ctx context.Context, entry *models.QueueEntry) (recalcOutcome, error) {
	out := recalcOutcome{Outcome: Outcome{EntryID: entry.ID, OldEstimate: entry.EstimatedWait}}

	minutes, err := s.estimator.Estimate(ctx, entry)
	if err != nil {
		return out, err
	}
	out.NewEstimate = minutes
	if minutes == entry.EstimatedWait {
		return out, nil
	}

	if err := s.store.UpdateEstimatedWait(ctx, entry.ID, minutes); err != nil {
		return out, fmt.Errorf("failed to persist estimate: %w", err)
	}
	out.Updated = true

	delta := minutes - entry.EstimatedWait
	if delta < 0 {
		delta = -delta
	}
	if delta <= s.cfg.SignificantDelta {
		return out, nil
	}
	event := models.ChangeEvent{
		Kind:         models.EventWaitTimeChanged,
		EntryID:      entry.ID,
		PatientID:    entry.PatientID,
		QueueNumber:  entry.QueueNumber,
		DepartmentID: entry.DepartmentID,
		OldEstimate:  entry.EstimatedWait,
		NewEstimate:  minutes,
		OccurredAt:   s.now(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		if errors.Is(err, notifier.ErrSuppressed) {
			out.Suppressed = true
			return out, nil
		}
		out.notifyErr = err
		s.logger.Warn("Failed to send wait time notification",
			zap.String("entry_id", entry.ID),
			zap.Error(err),
		)
		return out, nil
	}
	out.Notified = true
	return out, nil
}

// ExpireStale 取消 enter_time 早于 now - ExpireAfter 的 waiting 记录
func (s *Scheduler) ExpireStale(ctx context.Context) (ExpireResult, error) {
	var result ExpireResult
	cutoff := s.now().Add(-s.cfg.ExpireAfter)

	entries, err := s.store.ListEntries(ctx, models.EntryFilter{
		Statuses:      []models.EntryStatus{models.StatusWaiting},
		EnteredBefore: &cutoff,
	})
	if err != nil {
		return result, fmt.Errorf("failed to list stale entries: %w", err)
	}

	note := fmt.Sprintf("expired: waiting longer than %s", s.cfg.ExpireAfter)
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		result.Scanned++

		if _, err := s.transitions.Transition(ctx, entry.ID, models.StatusCancelled, note); err != nil {
			result.Failed++
			s.logger.Error("Failed to expire queue entry",
				zap.String("entry_id", entry.ID),
				zap.Error(err),
			)
			continue
		}
		result.Expired++

		event := models.ChangeEvent{
			Kind:         models.EventEntryExpired,
			EntryID:      entry.ID,
			PatientID:    entry.PatientID,
			QueueNumber:  entry.QueueNumber,
			DepartmentID: entry.DepartmentID,
			OldEstimate:  entry.EstimatedWait,
			OccurredAt:   s.now(),
		}
		if err := s.notifier.Notify(ctx, event); err != nil && !errors.Is(err, notifier.ErrSuppressed) {
			s.logger.Warn("Failed to send expiry notification",
				zap.String("entry_id", entry.ID),
				zap.Error(err),
			)
		}
	}

	if result.Scanned > 0 {
		s.logger.Info("Expired stale queue entries",
			zap.Int("expired", result.Expired),
			zap.Int("error_count", result.Failed),
		)
	}
	return result, ctx.Err()
}

// FlagDelayed 通知已等待时间超过预计等待时间的 waiting 记录
// 同一患者的重复提醒由通知方的频率限制控制
func (s *Scheduler) FlagDelayed(ctx context.Context) (DelayResult, error) {
	var result DelayResult
	now := s.now()

	entries, err := s.store.ListEntries(ctx, models.EntryFilter{
		Statuses: []models.EntryStatus{models.StatusWaiting},
	})
	if err != nil {
		return result, fmt.Errorf("failed to list waiting entries: %w", err)
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		result.Scanned++

		elapsed := int(now.Sub(entry.EnterTime).Minutes())
		if elapsed <= entry.EstimatedWait {
			continue
		}
		result.Delayed++

		event := models.ChangeEvent{
			Kind:           models.EventEntryDelayed,
			EntryID:        entry.ID,
			PatientID:      entry.PatientID,
			QueueNumber:    entry.QueueNumber,
			DepartmentID:   entry.DepartmentID,
			OldEstimate:    entry.EstimatedWait,
			NewEstimate:    entry.EstimatedWait,
			ElapsedMinutes: elapsed,
			OccurredAt:     now,
		}
		err := s.notifier.Notify(ctx, event)
		switch {
		case err == nil:
			result.Notified++
		case errors.Is(err, notifier.ErrSuppressed):
			result.Suppressed++
		default:
			result.NotifyFailed++
			s.logger.Warn("Failed to send delay notification",
				zap.String("entry_id", entry.ID),
				zap.Error(err),
			)
		}
	}

	if result.Delayed > 0 {
		s.logger.Info("Flagged delayed queue entries",
			zap.Int("delayed", result.Delayed),
			zap.Int("notified", result.Notified),
			zap.Int("suppressed", result.Suppressed),
			zap.Int("notify_failed", result.NotifyFailed),
		)
	}
	return result, ctx.Err()
}
