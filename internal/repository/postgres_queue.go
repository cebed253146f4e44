package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"hospital-queue/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const entryColumns = `entry_id, patient_id, patient_name, department_id, examination_id, equipment_id,
	queue_number, priority, status, enter_time, start_time, end_time,
	estimated_wait, actual_wait, notes, created_at, updated_at`

const historyColumns = `history_id, entry_id, patient_id, department_id, examination_id, equipment_id,
	queue_number, priority, status, enter_time, start_time, end_time,
	estimated_wait, actual_wait, notes, created_at`

// PostgresQueueRepository 基于 PostgreSQL 的排队记录仓库
type PostgresQueueRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresQueueRepository 创建排队记录仓库
func NewPostgresQueueRepository(db *sql.DB, logger *zap.Logger) *PostgresQueueRepository {
	return &PostgresQueueRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*models.QueueEntry, error) {
	var e models.QueueEntry
	var examID, equipID sql.NullString
	var startTime, endTime sql.NullTime
	var actualWait sql.NullInt64
	var status string

	err := row.Scan(
		&e.ID, &e.PatientID, &e.PatientName, &e.DepartmentID, &examID, &equipID,
		&e.QueueNumber, &e.Priority, &status, &e.EnterTime, &startTime, &endTime,
		&e.EstimatedWait, &actualWait, &e.Notes, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = models.EntryStatus(status)
	e.ExaminationID = fromNullString(examID)
	e.EquipmentID = fromNullString(equipID)
	e.StartTime = fromNullTime(startTime)
	e.EndTime = fromNullTime(endTime)
	e.ActualWait = fromNullInt(actualWait)
	return &e, nil
}

// CreateEntry 插入排队记录
func (r *PostgresQueueRepository) CreateEntry(ctx context.Context, e *models.QueueEntry) error {
	query := `INSERT INTO queue_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.PatientID, e.PatientName, e.DepartmentID, toNullString(e.ExaminationID), toNullString(e.EquipmentID),
		e.QueueNumber, e.Priority, string(e.Status), e.EnterTime, toNullTime(e.StartTime), toNullTime(e.EndTime),
		e.EstimatedWait, toNullInt(e.ActualWait), e.Notes, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", models.ErrDuplicateQueueNumber, e.QueueNumber)
		}
		return fmt.Errorf("failed to create queue entry: %w", err)
	}
	return nil
}

// GetEntry 按 ID 读取
func (r *PostgresQueueRepository) GetEntry(ctx context.Context, id string) (*models.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE entry_id = $1`

	e, err := scanEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("queue entry %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return e, nil
}

// UpdateEntry 以 status = from 为条件写回可变字段
func (r *PostgresQueueRepository) UpdateEntry(ctx context.Context, e *models.QueueEntry, from models.EntryStatus) error {
	query := `
		UPDATE queue_entries
		SET priority = $2,
		    status = $3,
		    equipment_id = $4,
		    start_time = $5,
		    end_time = $6,
		    estimated_wait = $7,
		    actual_wait = $8,
		    notes = $9,
		    updated_at = $10
		WHERE entry_id = $1 AND status = $11
	`
	res, err := r.db.ExecContext(ctx, query,
		e.ID, e.Priority, string(e.Status), toNullString(e.EquipmentID),
		toNullTime(e.StartTime), toNullTime(e.EndTime),
		e.EstimatedWait, toNullInt(e.ActualWait), e.Notes, e.UpdatedAt,
		string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update queue entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// 记录不存在或状态已变，由调用方重新读取区分
		return fmt.Errorf("queue entry %s not in status %s: %w", e.ID, from, models.ErrStatusConflict)
	}
	return nil
}

// UpdateEstimatedWait 只更新预计等待时间
func (r *PostgresQueueRepository) UpdateEstimatedWait(ctx context.Context, id string, minutes int) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE queue_entries SET estimated_wait = $2, updated_at = NOW() WHERE entry_id = $1`,
		id, minutes,
	)
	if err != nil {
		return fmt.Errorf("failed to update estimated wait: %w", err)
	}
	return expectOneRow(res, id)
}

// ListEntries 按过滤条件列出，按排队顺序返回
func (r *PostgresQueueRepository) ListEntries(ctx context.Context, f models.EntryFilter) ([]*models.QueueEntry, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.DepartmentID != "" {
		add("department_id = $%d", f.DepartmentID)
	}
	if f.ExaminationID != "" {
		add("examination_id = $%d", f.ExaminationID)
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", pq.Array(statusStrings(f.Statuses)))
	}
	if f.EnteredBefore != nil {
		add("enter_time < $%d", *f.EnteredBefore)
	}
	if f.EnteredAfter != nil {
		add("enter_time >= $%d", *f.EnteredAfter)
	}

	query := `SELECT ` + entryColumns + ` FROM queue_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY priority DESC, enter_time ASC"

	return r.queryEntries(ctx, query, args...)
}

// ListActiveByDepartment 单条查询读取活动记录，保证排名基于一致快照
func (r *PostgresQueueRepository) ListActiveByDepartment(ctx context.Context, departmentID string) ([]*models.QueueEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM queue_entries
		WHERE department_id = $1 AND status = ANY($2)
		ORDER BY priority DESC, enter_time ASC`

	return r.queryEntries(ctx, query, departmentID, pq.Array(statusStrings(models.ActiveStatuses)))
}

func (r *PostgresQueueRepository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*models.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue entries: %w", err)
	}
	return entries, nil
}

// CountInService 科室内正在服务的人数
func (r *PostgresQueueRepository) CountInService(ctx context.Context, departmentID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE department_id = $1 AND status = $2`,
		departmentID, string(models.StatusInService),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count in-service entries: %w", err)
	}
	return n, nil
}

// CountCreatedSince 科室 since 之后创建的记录数（当日接诊量）
func (r *PostgresQueueRepository) CountCreatedSince(ctx context.Context, departmentID string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE department_id = $1 AND created_at >= $2`,
		departmentID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count created entries: %w", err)
	}
	return n, nil
}

// QueueNumberExists 队列号是否已被占用
func (r *PostgresQueueRepository) QueueNumberExists(ctx context.Context, queueNumber string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM queue_entries WHERE queue_number = $1)`,
		queueNumber,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check queue number: %w", err)
	}
	return exists, nil
}

// AverageActualWait 检查项目的历史平均实际等待时间
func (r *PostgresQueueRepository) AverageActualWait(ctx context.Context, examinationID string, since time.Time) (float64, int, error) {
	query := `
		SELECT COALESCE(AVG(actual_wait), 0), COUNT(actual_wait)
		FROM queue_entries
		WHERE examination_id = $1
		  AND status = $2
		  AND start_time IS NOT NULL
		  AND actual_wait IS NOT NULL
		  AND enter_time >= $3
	`
	var avg float64
	var n int
	if err := r.db.QueryRowContext(ctx, query, examinationID, string(models.StatusCompleted), since).Scan(&avg, &n); err != nil {
		return 0, 0, fmt.Errorf("failed to average actual wait: %w", err)
	}
	return avg, n, nil
}

// InsertHistory 追加历史快照，依赖 entry_id 唯一约束保证并发下只有一条
func (r *PostgresQueueRepository) InsertHistory(ctx context.Context, s *models.HistorySnapshot) error {
	query := `INSERT INTO queue_history (` + historyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (entry_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		s.ID, s.EntryID, s.PatientID, s.DepartmentID, toNullString(s.ExaminationID), toNullString(s.EquipmentID),
		s.QueueNumber, s.Priority, string(s.Status), s.EnterTime, toNullTime(s.StartTime), toNullTime(s.EndTime),
		s.EstimatedWait, toNullInt(s.ActualWait), s.Notes, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history snapshot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return models.ErrDuplicateHistory
	}
	return nil
}

// ListHistory 列出 [from, to) 内结束的快照
func (r *PostgresQueueRepository) ListHistory(ctx context.Context, from, to time.Time) ([]*models.HistorySnapshot, error) {
	query := `SELECT ` + historyColumns + `
		FROM queue_history
		WHERE end_time >= $1 AND end_time < $2
		ORDER BY end_time ASC`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []*models.HistorySnapshot
	for rows.Next() {
		var s models.HistorySnapshot
		var examID, equipID sql.NullString
		var startTime, endTime sql.NullTime
		var actualWait sql.NullInt64
		var status string
		if err := rows.Scan(
			&s.ID, &s.EntryID, &s.PatientID, &s.DepartmentID, &examID, &equipID,
			&s.QueueNumber, &s.Priority, &status, &s.EnterTime, &startTime, &endTime,
			&s.EstimatedWait, &actualWait, &s.Notes, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		s.Status = models.EntryStatus(status)
		s.ExaminationID = fromNullString(examID)
		s.EquipmentID = fromNullString(equipID)
		s.StartTime = fromNullTime(startTime)
		s.EndTime = fromNullTime(endTime)
		s.ActualWait = fromNullInt(actualWait)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func expectOneRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("queue entry %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func statusStrings(statuses []models.EntryStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
