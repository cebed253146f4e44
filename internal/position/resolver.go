package position

import (
	"context"
	"fmt"

	"hospital-queue/internal/models"
)

// ActiveSource 读取科室内的活动记录（waiting + in_service），必须是一次一致读取
type ActiveSource interface {
	ListActiveByDepartment(ctx context.Context, departmentID string) ([]*models.QueueEntry, error)
}

// Resolver 计算排队位置
type Resolver struct {
	source ActiveSource
}

func NewResolver(source ActiveSource) *Resolver {
	return &Resolver{source: source}
}

// Position 返回 entry 在科室内的名次（从 1 开始）；非 waiting 状态返回 0
func (r *Resolver) Position(ctx context.Context, entry *models.QueueEntry) (int, error) {
	if entry.Status != models.StatusWaiting {
		return 0, nil
	}

	active, err := r.source.ListActiveByDepartment(ctx, entry.DepartmentID)
	if err != nil {
		return 0, fmt.Errorf("failed to load active entries: %w", err)
	}
	return Rank(entry, active), nil
}

// Rank 在给定快照上计算名次：排在 entry 之前的活动记录数 + 1
// entry 本身（同 ID）不计入，因此对尚未入库的新记录同样适用
func Rank(entry *models.QueueEntry, active []*models.QueueEntry) int {
	ahead := 0
	for _, other := range active {
		if other.ID == entry.ID || !other.Status.IsActive() {
			continue
		}
		if other.Ahead(entry) {
			ahead++
		}
	}
	return ahead + 1
}
