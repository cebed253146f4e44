package repository

import (
	"context"
	"time"

	"hospital-queue/internal/models"
)

// QueueRepository 排队记录与历史快照的持久化
type QueueRepository interface {
	// CreateEntry 插入新记录；队列号冲突返回 models.ErrDuplicateQueueNumber
	CreateEntry(ctx context.Context, e *models.QueueEntry) error
	GetEntry(ctx context.Context, id string) (*models.QueueEntry, error)
	// UpdateEntry 写回状态、时间、等待时间等可变字段
	// 只有当前状态仍为 from 时才写入，否则返回 models.ErrStatusConflict
	UpdateEntry(ctx context.Context, e *models.QueueEntry, from models.EntryStatus) error
	// UpdateEstimatedWait 只更新预计等待时间（last-write-wins）
	UpdateEstimatedWait(ctx context.Context, id string, minutes int) error
	ListEntries(ctx context.Context, f models.EntryFilter) ([]*models.QueueEntry, error)
	// ListActiveByDepartment 单次读取科室内 waiting + in_service 记录
	ListActiveByDepartment(ctx context.Context, departmentID string) ([]*models.QueueEntry, error)
	CountInService(ctx context.Context, departmentID string) (int, error)
	CountCreatedSince(ctx context.Context, departmentID string, since time.Time) (int, error)
	QueueNumberExists(ctx context.Context, queueNumber string) (bool, error)
	// AverageActualWait 某检查项目在 since 之后已完成记录的平均实际等待时间；无数据时 n = 0
	AverageActualWait(ctx context.Context, examinationID string, since time.Time) (avg float64, n int, err error)

	// InsertHistory 追加快照；同一 EntryID 已存在时返回 models.ErrDuplicateHistory
	InsertHistory(ctx context.Context, s *models.HistorySnapshot) error
	ListHistory(ctx context.Context, from, to time.Time) ([]*models.HistorySnapshot, error)
}

// ReferenceRepository 科室 / 检查项目 / 设备查询（非拥有引用）
type ReferenceRepository interface {
	GetDepartment(ctx context.Context, id string) (*models.Department, error)
	GetExamination(ctx context.Context, id string) (*models.Examination, error)
	GetEquipment(ctx context.Context, id string) (*models.Equipment, error)
	CountAvailableEquipment(ctx context.Context, departmentID string) (int, error)
	ListDepartmentIDs(ctx context.Context) ([]string, error)
	ListExaminationIDs(ctx context.Context) ([]string, error)
}
