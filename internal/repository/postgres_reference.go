package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hospital-queue/internal/models"

	"go.uber.org/zap"
)

// PostgresReferenceRepository 科室/检查项目/设备的只读查询
type PostgresReferenceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresReferenceRepository(db *sql.DB, logger *zap.Logger) *PostgresReferenceRepository {
	return &PostgresReferenceRepository{db: db, logger: logger}
}

func (r *PostgresReferenceRepository) GetDepartment(ctx context.Context, id string) (*models.Department, error) {
	var d models.Department
	err := r.db.QueryRowContext(ctx,
		`SELECT department_id, code, name, max_daily_patients FROM departments WHERE department_id = $1`, id,
	).Scan(&d.ID, &d.Code, &d.Name, &d.MaxDailyPatients)
	if err != nil {
		return nil, notFoundOr(err, "department", id)
	}
	return &d, nil
}

func (r *PostgresReferenceRepository) GetExamination(ctx context.Context, id string) (*models.Examination, error) {
	var e models.Examination
	err := r.db.QueryRowContext(ctx,
		`SELECT examination_id, department_id, code, name, duration FROM examinations WHERE examination_id = $1`, id,
	).Scan(&e.ID, &e.DepartmentID, &e.Code, &e.Name, &e.Duration)
	if err != nil {
		return nil, notFoundOr(err, "examination", id)
	}
	return &e, nil
}

func (r *PostgresReferenceRepository) GetEquipment(ctx context.Context, id string) (*models.Equipment, error) {
	var e models.Equipment
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT equipment_id, department_id, code, name, status, average_service_time FROM equipment WHERE equipment_id = $1`, id,
	).Scan(&e.ID, &e.DepartmentID, &e.Code, &e.Name, &status, &e.AverageServiceTime)
	if err != nil {
		return nil, notFoundOr(err, "equipment", id)
	}
	e.Status = models.EquipmentStatus(status)
	return &e, nil
}

// CountAvailableEquipment 科室可用设备数（容量）
func (r *PostgresReferenceRepository) CountAvailableEquipment(ctx context.Context, departmentID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM equipment WHERE department_id = $1 AND status = $2`,
		departmentID, string(models.EquipmentAvailable),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count available equipment: %w", err)
	}
	return n, nil
}

func (r *PostgresReferenceRepository) ListDepartmentIDs(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, `SELECT department_id FROM departments ORDER BY department_id`)
}

func (r *PostgresReferenceRepository) ListExaminationIDs(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, `SELECT examination_id FROM examinations ORDER BY examination_id`)
}

func (r *PostgresReferenceRepository) listIDs(ctx context.Context, query string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func notFoundOr(err error, kind, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, models.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", kind, err)
}
