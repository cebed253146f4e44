package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"hospital-queue/internal/models"

	"github.com/google/uuid"
)

// MemoryStore 内存实现（DB 未就绪时联调 + 单元测试）
// 同时实现 QueueRepository 与 ReferenceRepository；读写都在同一把锁下完成，
// 所以 ListActiveByDepartment 天然是一致快照。
type MemoryStore struct {
	mu sync.RWMutex

	entries map[string]*models.QueueEntry      // entryID -> entry
	numbers map[string]string                  // queueNumber -> entryID
	history map[string]*models.HistorySnapshot // entryID -> snapshot
	depts   map[string]*models.Department
	exams   map[string]*models.Examination
	equips  map[string]*models.Equipment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]*models.QueueEntry{},
		numbers: map[string]string{},
		history: map[string]*models.HistorySnapshot{},
		depts:   map[string]*models.Department{},
		exams:   map[string]*models.Examination{},
		equips:  map[string]*models.Equipment{},
	}
}

// ---- reference data seeding ----

func (m *MemoryStore) PutDepartment(d models.Department) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depts[d.ID] = &d
}

func (m *MemoryStore) PutExamination(e models.Examination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exams[e.ID] = &e
}

func (m *MemoryStore) PutEquipment(e models.Equipment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equips[e.ID] = &e
}

// ---- QueueRepository ----

func (m *MemoryStore) CreateEntry(_ context.Context, e *models.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, ok := m.numbers[e.QueueNumber]; ok {
		return fmt.Errorf("%w: %s", models.ErrDuplicateQueueNumber, e.QueueNumber)
	}
	m.entries[e.ID] = e.Clone()
	m.numbers[e.QueueNumber] = e.ID
	return nil
}

func (m *MemoryStore) GetEntry(_ context.Context, id string) (*models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("queue entry %s: %w", id, models.ErrNotFound)
	}
	return e.Clone(), nil
}

func (m *MemoryStore) UpdateEntry(_ context.Context, e *models.QueueEntry, from models.EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.entries[e.ID]
	if !ok {
		return fmt.Errorf("queue entry %s: %w", e.ID, models.ErrNotFound)
	}
	if cur.Status != from {
		return fmt.Errorf("queue entry %s is %s, expected %s: %w", e.ID, cur.Status, from, models.ErrStatusConflict)
	}
	next := e.Clone()
	// 创建时字段不可变
	next.QueueNumber = cur.QueueNumber
	next.EnterTime = cur.EnterTime
	next.CreatedAt = cur.CreatedAt
	m.entries[e.ID] = next
	return nil
}

func (m *MemoryStore) UpdateEstimatedWait(_ context.Context, id string, minutes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return fmt.Errorf("queue entry %s: %w", id, models.ErrNotFound)
	}
	e.EstimatedWait = minutes
	e.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListEntries(_ context.Context, f models.EntryFilter) ([]*models.QueueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.QueueEntry
	for _, e := range m.entries {
		if matches(e, f) {
			out = append(out, e.Clone())
		}
	}
	sortByRank(out)
	return out, nil
}

func (m *MemoryStore) ListActiveByDepartment(ctx context.Context, departmentID string) ([]*models.QueueEntry, error) {
	return m.ListEntries(ctx, models.EntryFilter{
		DepartmentID: departmentID,
		Statuses:     models.ActiveStatuses,
	})
}

func (m *MemoryStore) CountInService(_ context.Context, departmentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if e.DepartmentID == departmentID && e.Status == models.StatusInService {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountCreatedSince(_ context.Context, departmentID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if e.DepartmentID == departmentID && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) QueueNumberExists(_ context.Context, queueNumber string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.numbers[queueNumber]
	return ok, nil
}

func (m *MemoryStore) AverageActualWait(_ context.Context, examinationID string, since time.Time) (float64, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum, n := 0, 0
	for _, e := range m.entries {
		if e.ExaminationID == nil || *e.ExaminationID != examinationID {
			continue
		}
		if e.Status != models.StatusCompleted || e.StartTime == nil || e.ActualWait == nil || e.EnterTime.Before(since) {
			continue
		}
		sum += *e.ActualWait
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(n), n, nil
}

func (m *MemoryStore) InsertHistory(_ context.Context, s *models.HistorySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.history[s.EntryID]; ok {
		return models.ErrDuplicateHistory
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	cp := *s
	m.history[s.EntryID] = &cp
	return nil
}

func (m *MemoryStore) ListHistory(_ context.Context, from, to time.Time) ([]*models.HistorySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.HistorySnapshot
	for _, s := range m.history {
		if s.EndTime == nil || s.EndTime.Before(from) || !s.EndTime.Before(to) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(*out[j].EndTime) })
	return out, nil
}

// HistoryCount 快照条数（测试 / 运维检查用）
func (m *MemoryStore) HistoryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

// ---- ReferenceRepository ----

func (m *MemoryStore) GetDepartment(_ context.Context, id string) (*models.Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.depts[id]
	if !ok {
		return nil, fmt.Errorf("department %s: %w", id, models.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetExamination(_ context.Context, id string) (*models.Examination, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.exams[id]
	if !ok {
		return nil, fmt.Errorf("examination %s: %w", id, models.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetEquipment(_ context.Context, id string) (*models.Equipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.equips[id]
	if !ok {
		return nil, fmt.Errorf("equipment %s: %w", id, models.ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) CountAvailableEquipment(_ context.Context, departmentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.equips {
		if e.DepartmentID == departmentID && e.Status == models.EquipmentAvailable {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ListDepartmentIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.depts), nil
}

func (m *MemoryStore) ListExaminationIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.exams), nil
}

func matches(e *models.QueueEntry, f models.EntryFilter) bool {
	if f.DepartmentID != "" && e.DepartmentID != f.DepartmentID {
		return false
	}
	if f.ExaminationID != "" && (e.ExaminationID == nil || *e.ExaminationID != f.ExaminationID) {
		return false
	}
	if f.PatientID != "" && e.PatientID != f.PatientID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if e.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.EnteredBefore != nil && !e.EnterTime.Before(*f.EnteredBefore) {
		return false
	}
	if f.EnteredAfter != nil && e.EnterTime.Before(*f.EnteredAfter) {
		return false
	}
	return true
}

func sortByRank(entries []*models.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Ahead(entries[j])
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
