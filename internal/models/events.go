package models

import "time"

// 通知类型
const (
	EventWaitTimeChanged = "wait_time_changed"
	EventEntryExpired    = "entry_expired"
	EventEntryDelayed    = "entry_delayed"
)

// ChangeEvent 等待时间显著变化（或过期取消）时推送给通知方
type ChangeEvent struct {
	Kind         string `json:"kind"`
	EntryID      string `json:"entry_id"`
	PatientID    string `json:"patient_id"`
	QueueNumber  string `json:"queue_number"`
	DepartmentID string `json:"department_id"`
	OldEstimate  int    `json:"old_estimate"`
	NewEstimate  int    `json:"new_estimate"`
	// ElapsedMinutes 已等待分钟数，仅 entry_delayed 使用
	ElapsedMinutes int       `json:"elapsed_minutes,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}
