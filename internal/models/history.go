package models

import "time"

// HistorySnapshot 终态迁移时的排队记录快照，每个 EntryID 至多一条
type HistorySnapshot struct {
	ID            string      `json:"id"`
	EntryID       string      `json:"entry_id"`
	PatientID     string      `json:"patient_id"`
	DepartmentID  string      `json:"department_id"`
	ExaminationID *string     `json:"examination_id,omitempty"`
	EquipmentID   *string     `json:"equipment_id,omitempty"`
	QueueNumber   string      `json:"queue_number"`
	Priority      int         `json:"priority"`
	Status        EntryStatus `json:"status"`
	EnterTime     time.Time   `json:"enter_time"`
	StartTime     *time.Time  `json:"start_time,omitempty"`
	EndTime       *time.Time  `json:"end_time,omitempty"`
	EstimatedWait int         `json:"estimated_wait"`
	ActualWait    *int        `json:"actual_wait,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NewHistorySnapshot 从排队记录复制全部字段
func NewHistorySnapshot(id string, e *QueueEntry, at time.Time) *HistorySnapshot {
	c := e.Clone()
	return &HistorySnapshot{
		ID:            id,
		EntryID:       c.ID,
		PatientID:     c.PatientID,
		DepartmentID:  c.DepartmentID,
		ExaminationID: c.ExaminationID,
		EquipmentID:   c.EquipmentID,
		QueueNumber:   c.QueueNumber,
		Priority:      c.Priority,
		Status:        c.Status,
		EnterTime:     c.EnterTime,
		StartTime:     c.StartTime,
		EndTime:       c.EndTime,
		EstimatedWait: c.EstimatedWait,
		ActualWait:    c.ActualWait,
		Notes:         c.Notes,
		CreatedAt:     at,
	}
}
