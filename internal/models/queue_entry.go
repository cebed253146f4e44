package models

import "time"

// QueueEntry 一条排队记录
// ExaminationID / EquipmentID 为非拥有引用，可为空
type QueueEntry struct {
	ID            string      `json:"id"`
	PatientID     string      `json:"patient_id"`
	PatientName   string      `json:"patient_name"`
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
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Clone 深拷贝（指针字段单独复制）
func (e *QueueEntry) Clone() *QueueEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.ExaminationID = cloneString(e.ExaminationID)
	c.EquipmentID = cloneString(e.EquipmentID)
	c.StartTime = cloneTime(e.StartTime)
	c.EndTime = cloneTime(e.EndTime)
	if e.ActualWait != nil {
		v := *e.ActualWait
		c.ActualWait = &v
	}
	return &c
}

// Ahead 排序规则：优先级高者在前，同优先级先到者在前
func (e *QueueEntry) Ahead(other *QueueEntry) bool {
	if e.Priority != other.Priority {
		return e.Priority > other.Priority
	}
	return e.EnterTime.Before(other.EnterTime)
}

// EntryFilter 列表过滤条件
type EntryFilter struct {
	DepartmentID  string
	ExaminationID string
	PatientID     string
	Statuses      []EntryStatus
	EnteredBefore *time.Time
	EnteredAfter  *time.Time
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
