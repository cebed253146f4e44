package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"hospital-queue/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var entryColumnNames = []string{
	"entry_id", "patient_id", "patient_name", "department_id", "examination_id", "equipment_id",
	"queue_number", "priority", "status", "enter_time", "start_time", "end_time",
	"estimated_wait", "actual_wait", "notes", "created_at", "updated_at",
}

func setupMockQueueDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresQueueRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPostgresQueueRepository(db, zap.NewNop())
	return db, mock, repo
}

func sampleEntry() *models.QueueEntry {
	now := time.Now()
	exam := "exam-1"
	return &models.QueueEntry{
		ID:            uuid.NewString(),
		PatientID:     "patient-1",
		PatientName:   "Alice",
		DepartmentID:  "dept-1",
		ExaminationID: &exam,
		QueueNumber:   "CT20261018093000abcd",
		Priority:      1,
		Status:        models.StatusWaiting,
		EnterTime:     now,
		EstimatedWait: 20,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCreateEntry_Success(t *testing.T) {
	db, mock, repo := setupMockQueueDB(t)
	defer db.Close()

	e := sampleEntry()
	mock.ExpectExec(`INSERT INTO queue_entries`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateEntry(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateEntry_DuplicateQueueNumber(t *testing.T) {
	db, mock, repo := setupMockQueueDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO queue_entries`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "queue_entries_queue_number_key"})

	err := repo.CreateEntry(context.Background(), sampleEntry())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDuplicateQueueNumber))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntry_ScansNullableColumns(t *testing.T) {
	db, mock, repo := setupMockQueueDB(t)
	defer db.Close()

	id := uuid.NewString()
	now := time.Now()
	rows := sqlmock.NewRows(entryColumnNames).AddRow(
		id, "patient-1", "Alice", "dept-1", "exam-1", nil,
		"CT1", 0, "in_service", now, now, nil,
		15, nil, "", now, now,
	)
	mock.ExpectQuery(`SELECT (.+) FROM queue_entries WHERE entry_id = \$1`).
		WithArgs(id).
		WillReturnRows(rows)

	e, err := repo.GetEntry(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInService, e.Status)
	require.NotNil(t, e.ExaminationID)
	assert.Equal(t, "exam-1", *e.ExaminationID)
	assert.Nil(t, e.EquipmentID)
	assert.NotNil(t, e.StartTime)
	assert.Nil(t, e.EndTime)
	assert.Nil(t, e.ActualWait)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntry_NotFound(t *testing.T) {
	db, mock, repo := setupMockQueueDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetEntry(context.Background(), "missing")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestUpdateEstimatedWait_NoRows(t *testing.T) {
	db, mock, repo := setupMockQueueDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE queue_entries SET estimated_wait`).
		WithArgs("entry-1", 30).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateEstimatedWait(context.Background(), "entry-1", 30)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveByDepartment_SingleQuery(t *testing.T) {
	db, mock, repo := setupMockQueueDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(entryColumnNames).
		AddRow("e1", "p1", "A", "dept-1", nil, nil, "N1", 2, "waiting", now, nil, nil, 10, nil, "", now, now).
		AddRow("e2", "p2", "B", "dept-1", nil, nil, "N2", 0, "in_service", now, now, nil, 0, nil, "", now, now)

	mock.ExpectQuery(`WHERE department_id = \$1 AND status = ANY\(\$2\)`).
		WithArgs("dept-1", sqlmock.AnyArg()).
		WillReturnRows(rows)

	entries, err := repo.ListActiveByDepartment(context.Background(), "dept-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e1", entries[0].ID)
	assert.Equal(t, models.StatusInService, entries[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEntries_BuildsFilter(t *testing.T) {
	db, mock, repo := setupMockQueueDB(t)
	defer db.Close()

	cutoff := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(`WHERE department_id = \$1 AND status = ANY\(\$2\) AND enter_time < \$3 ORDER BY priority DESC`).
		WithArgs("dept-1", sqlmock.AnyArg(), cutoff).
		WillReturnRows(sqlmock.NewRows(entryColumnNames))

	entries, err := repo.ListEntries(context.Background(), models.EntryFilter{
		DepartmentID:  "dept-1",
		Statuses:      []models.EntryStatus{models.StatusWaiting},
		EnteredBefore: &cutoff,
	})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAverageActualWait(t *testing.T) {
	db, mock, repo := setupMockQueueDB(t)
	defer db.Close()

	since := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectQuery(`SELECT COALESCE\(AVG\(actual_wait\), 0\), COUNT\(actual_wait\)`).
		WithArgs("exam-1", "completed", since).
		WillReturnRows(sqlmock.NewRows([]string{"avg", "count"}).AddRow(42.5, 8))

	avg, n, err := repo.AverageActualWait(context.Background(), "exam-1", since)
	require.NoError(t, err)
	assert.Equal(t, 42.5, avg)
	assert.Equal(t, 8, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertHistory_ConflictIsDuplicate(t *testing.T) {
	db, mock, repo := setupMockQueueDB(t)
	defer db.Close()

	e := sampleEntry()
	end := time.Now()
	e.Status = models.StatusCompleted
	e.EndTime = &end
	snap := models.NewHistorySnapshot(uuid.NewString(), e, end)

	mock.ExpectExec(`INSERT INTO queue_history (.+) ON CONFLICT \(entry_id\) DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO queue_history`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.InsertHistory(context.Background(), snap))
	err := repo.InsertHistory(context.Background(), snap)
	assert.True(t, errors.Is(err, models.ErrDuplicateHistory))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueNumberExists(t *testing.T) {
	db, mock, repo := setupMockQueueDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("CT1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.QueueNumberExists(context.Background(), "CT1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUpdateEntry_GuardsOnExpectedStatus(t *testing.T) {
	db, mock, repo := setupMockQueueDB(t)
	defer db.Close()

	e := sampleEntry()
	e.Status = models.StatusCompleted

	mock.ExpectExec(`(?s)UPDATE queue_entries\s+SET priority = \$2,.+WHERE entry_id = \$1 AND status = \$11`).
		WithArgs(e.ID, e.Priority, "completed", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			e.EstimatedWait, sqlmock.AnyArg(), e.Notes, sqlmock.AnyArg(), "in_service").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateEntry(context.Background(), e, models.StatusInService))

	mock.ExpectExec(`UPDATE queue_entries`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateEntry(context.Background(), e, models.StatusInService)
	assert.True(t, errors.Is(err, models.ErrStatusConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}
