package lifecycle

import "hospital-queue/internal/models"

// allowed 合法迁移表；终态没有出边
var allowed = map[models.EntryStatus][]models.EntryStatus{
	models.StatusWaiting:   {models.StatusInService, models.StatusCancelled},
	models.StatusInService: {models.StatusCompleted, models.StatusSkipped, models.StatusCancelled},
}

// CanTransition from -> to 是否合法（不含同状态重复）
func CanTransition(from, to models.EntryStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
