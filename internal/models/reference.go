package models

// Department 科室（服务组）
type Department struct {
	ID               string `json:"id"`
	Code             string `json:"code"`
	Name             string `json:"name"`
	MaxDailyPatients int    `json:"max_daily_patients"` // 0 = 不限
}

// Examination 检查项目（子服务），Duration 为标准时长（分钟）
type Examination struct {
	ID           string `json:"id"`
	DepartmentID string `json:"department_id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	Duration     int    `json:"duration"`
}

// EquipmentStatus 设备状态
type EquipmentStatus string

const (
	EquipmentAvailable   EquipmentStatus = "available"
	EquipmentInUse       EquipmentStatus = "in_use"
	EquipmentMaintenance EquipmentStatus = "maintenance"
	EquipmentOffline     EquipmentStatus = "offline"
)

// Equipment 设备（资源），AverageServiceTime 单位分钟
type Equipment struct {
	ID                 string          `json:"id"`
	DepartmentID       string          `json:"department_id"`
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	Status             EquipmentStatus `json:"status"`
	AverageServiceTime int             `json:"average_service_time"`
}
