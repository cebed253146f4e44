package models

// EntryStatus 排队记录状态
type EntryStatus string

const (
	StatusWaiting   EntryStatus = "waiting"
	StatusInService EntryStatus = "in_service"
	StatusCompleted EntryStatus = "completed"
	StatusSkipped   EntryStatus = "skipped"
	StatusCancelled EntryStatus = "cancelled"
)

// ActiveStatuses 参与排名的状态
var ActiveStatuses = []EntryStatus{StatusWaiting, StatusInService}

// IsTerminal 终态不可再迁移
func (s EntryStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// IsActive waiting / in_service
func (s EntryStatus) IsActive() bool {
	return s == StatusWaiting || s == StatusInService
}

// Valid 是否为已知状态
func (s EntryStatus) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}
