package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hospital-queue/internal/models"
	"hospital-queue/internal/queuenumber"
	"hospital-queue/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WaitEstimator 初始等待时间估算
type WaitEstimator interface {
	Estimate(ctx context.Context, entry *models.QueueEntry) (int, error)
}

// NumberGenerator 队列号生成
type NumberGenerator interface {
	Generate(ctx context.Context, deptCode, patientName string, at time.Time) (string, error)
	MaxAttempts() int
}

// CreateRequest 创建排队记录的入参
type CreateRequest struct {
	PatientID     string  `json:"patient_id"`
	PatientName   string  `json:"patient_name"`
	DepartmentID  string  `json:"department_id"`
	ExaminationID *string `json:"examination_id,omitempty"`
	EquipmentID   *string `json:"equipment_id,omitempty"`
	Priority      int     `json:"priority"`
	Notes         string  `json:"notes,omitempty"`
}

// Controller 排队记录生命周期（状态机 + 历史快照）
type Controller struct {
	queue     repository.QueueRepository
	refs      repository.ReferenceRepository
	estimator WaitEstimator
	numbers   NumberGenerator
	logger    *zap.Logger
	now       func() time.Time
}

// NewController 创建状态控制器
func NewController(
	queue repository.QueueRepository,
	refs repository.ReferenceRepository,
	estimator WaitEstimator,
	numbers NumberGenerator,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		queue:     queue,
		refs:      refs,
		estimator: estimator,
		numbers:   numbers,
		logger:    logger,
		now:       time.Now,
	}
}

// Create 校验、分配队列号、计算初始等待时间，然后入库
// 记录在写入前已经带有预计等待时间，其它读者看不到没有估算的记录
func (c *Controller) Create(ctx context.Context, req CreateRequest) (*models.QueueEntry, error) {
	dept, err := c.validate(ctx, &req)
	if err != nil {
		return nil, err
	}

	now := c.now()
	entry := &models.QueueEntry{
		ID:            uuid.NewString(),
		PatientID:     req.PatientID,
		PatientName:   req.PatientName,
		DepartmentID:  req.DepartmentID,
		ExaminationID: req.ExaminationID,
		EquipmentID:   req.EquipmentID,
		Priority:      req.Priority,
		Status:        models.StatusWaiting,
		EnterTime:     now,
		Notes:         req.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	minutes, err := c.estimator.Estimate(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate initial wait: %w", err)
	}
	entry.EstimatedWait = minutes

	// 生成器检查过的号码仍可能在插入时被并发请求抢占
	for attempt := 1; ; attempt++ {
		number, err := c.numbers.Generate(ctx, dept.Code, req.PatientName, now)
		if err != nil {
			return nil, err
		}
		entry.QueueNumber = number

		err = c.queue.CreateEntry(ctx, entry)
		if err == nil {
			break
		}
		if !errors.Is(err, models.ErrDuplicateQueueNumber) || attempt >= c.numbers.MaxAttempts() {
			if errors.Is(err, models.ErrDuplicateQueueNumber) {
				return nil, fmt.Errorf("%w: %v", queuenumber.ErrQueueNumberExhausted, err)
			}
			return nil, err
		}
		c.logger.Debug("Queue number taken on insert, regenerating",
			zap.String("queue_number", number),
			zap.Int("attempt", attempt),
		)
	}

	c.logger.Info("Queue entry created",
		zap.String("entry_id", entry.ID),
		zap.String("queue_number", entry.QueueNumber),
		zap.String("department_id", entry.DepartmentID),
		zap.Int("estimated_wait", entry.EstimatedWait),
	)
	return entry, nil
}

func (c *Controller) validate(ctx context.Context, req *CreateRequest) (*models.Department, error) {
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.DepartmentID = strings.TrimSpace(req.DepartmentID)
	if req.PatientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", models.ErrValidation)
	}
	if req.DepartmentID == "" {
		return nil, fmt.Errorf("%w: department_id is required", models.ErrValidation)
	}
	if req.ExaminationID != nil && *req.ExaminationID == "" {
		req.ExaminationID = nil
	}
	if req.EquipmentID != nil && *req.EquipmentID == "" {
		req.EquipmentID = nil
	}

	dept, err := c.refs.GetDepartment(ctx, req.DepartmentID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown department %s", models.ErrValidation, req.DepartmentID)
		}
		return nil, err
	}

	if req.ExaminationID != nil {
		exam, err := c.refs.GetExamination(ctx, *req.ExaminationID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown examination %s", models.ErrValidation, *req.ExaminationID)
			}
			return nil, err
		}
		if exam.DepartmentID != dept.ID {
			return nil, fmt.Errorf("%w: examination %s does not belong to department %s", models.ErrValidation, exam.ID, dept.ID)
		}
	}

	if req.EquipmentID != nil {
		eq, err := c.refs.GetEquipment(ctx, *req.EquipmentID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown equipment %s", models.ErrValidation, *req.EquipmentID)
			}
			return nil, err
		}
		if eq.DepartmentID != dept.ID {
			return nil, fmt.Errorf("%w: equipment %s does not belong to department %s", models.ErrValidation, eq.ID, dept.ID)
		}
	}

	if dept.MaxDailyPatients > 0 {
		now := c.now()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		n, err := c.queue.CountCreatedSince(ctx, dept.ID, dayStart)
		if err != nil {
			return nil, err
		}
		if n >= dept.MaxDailyPatients {
			return nil, fmt.Errorf("%w: %s (%d/%d)", models.ErrDailyCapacityReached, dept.Code, n, dept.MaxDailyPatients)
		}
	}

	active, err := c.queue.ListEntries(ctx, models.EntryFilter{
		PatientID: req.PatientID,
		Statuses:  models.ActiveStatuses,
	})
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrActiveEntryExists, active[0].QueueNumber)
	}
	return dept, nil
}

// Transition 状态迁移
//   - 进入 in_service：start_time 未设置时写入
//   - 进入终态：end_time 未设置时写入；有 start_time 时计算 actual_wait；写入唯一一条历史快照
//   - 同一终态重复迁移是幂等的空操作（仍保证快照存在）
//   - 其它非法迁移返回 models.ErrInvalidTransition，不产生任何副作用
func (c *Controller) Transition(ctx context.Context, id string, to models.EntryStatus, note string) (*models.QueueEntry, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrValidation, to)
	}

	entry, err := c.queue.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	if entry.Status == to {
		if to.IsTerminal() {
			if err := c.snapshot(ctx, entry); err != nil {
				return nil, err
			}
		}
		return entry, nil
	}
	if !CanTransition(entry.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, entry.Status, to)
	}

	now := c.now()
	from := entry.Status
	entry.Status = to
	entry.UpdatedAt = now
	if note != "" {
		if entry.Notes != "" {
			entry.Notes += "\n"
		}
		entry.Notes += note
	}

	if to == models.StatusInService && entry.StartTime == nil {
		entry.StartTime = &now
	}
	if to.IsTerminal() {
		if entry.EndTime == nil {
			entry.EndTime = &now
		}
		if entry.StartTime != nil && entry.ActualWait == nil {
			minutes := int(entry.EndTime.Sub(entry.EnterTime).Minutes())
			entry.ActualWait = &minutes
		}
	}

	if err := c.queue.UpdateEntry(ctx, entry, from); err != nil {
		if errors.Is(err, models.ErrStatusConflict) {
			return c.resolveConflict(ctx, id, from, to)
		}
		return nil, fmt.Errorf("failed to persist transition: %w", err)
	}

	if to.IsTerminal() {
		if err := c.snapshot(ctx, entry); err != nil {
			return nil, err
		}
	}

	c.logger.Info("Queue entry transitioned",
		zap.String("entry_id", entry.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return entry, nil
}

// resolveConflict 写回时状态已被并发迁移：目标相同视为重复迁移，否则拒绝
func (c *Controller) resolveConflict(ctx context.Context, id string, from, to models.EntryStatus) (*models.QueueEntry, error) {
	cur, err := c.queue.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != to {
		return nil, fmt.Errorf("%w: %s -> %s (entry is now %s)", models.ErrInvalidTransition, from, to, cur.Status)
	}
	if to.IsTerminal() {
		if err := c.snapshot(ctx, cur); err != nil {
			return nil, err
		}
	}
	c.logger.Debug("Concurrent transition already applied",
		zap.String("entry_id", id),
		zap.String("to", string(to)),
	)
	return cur, nil
}

// snapshot 写入历史快照；重复写入视为成功
func (c *Controller) snapshot(ctx context.Context, entry *models.QueueEntry) error {
	err := c.queue.InsertHistory(ctx, models.NewHistorySnapshot(uuid.NewString(), entry, c.now()))
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrDuplicateHistory) {
		c.logger.Debug("History snapshot already exists", zap.String("entry_id", entry.ID))
		return nil
	}
	return fmt.Errorf("failed to write history snapshot: %w", err)
}
