package models

import "errors"

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition 非法状态迁移，调用方（HTTP 层）需要单独处理
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDuplicateHistory 同一排队记录重复写入历史快照，由状态控制器吞掉
	ErrDuplicateHistory = errors.New("history snapshot already exists")

	// ErrStatusConflict 写回时记录状态已被并发修改
	ErrStatusConflict = errors.New("entry status changed concurrently")

	// ErrDuplicateQueueNumber 队列号唯一约束冲突
	ErrDuplicateQueueNumber = errors.New("queue number already exists")

	// ErrDataUnavailable 历史/预测/容量数据缺失，估算器降级
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrValidation 创建请求不合法
	ErrValidation = errors.New("validation failed")

	// ErrDailyCapacityReached 科室当日接诊量已满
	ErrDailyCapacityReached = errors.New("department daily capacity reached")

	// ErrActiveEntryExists 患者还有未完成的排队
	ErrActiveEntryExists = errors.New("patient already has an active entry")
)
